package hdspe

// Firmware class revisions identifying the card model.
const (
	HDSPE_RAYDAT_REV   = 211
	HDSPE_AIO_REV      = 212
	HDSPE_MADIFACE_REV = 213
)

// PCI vendor IDs under which HDSPe cards report.
const (
	PCI_VENDOR_ID_XILINX = 0x10ee
	PCI_VENDOR_ID_RME    = 0x1d18
)

// IOTypeFor determines the card model from the PCI vendor ID and the
// firmware class revision. AIO and AIO Pro share a revision and are told
// apart by the vendor ID.
func IOTypeFor(vendorID uint16, firmwareRev uint8) IOType {
	switch firmwareRev {
	case HDSPE_RAYDAT_REV:
		return HDSPE_RAYDAT
	case HDSPE_AIO_REV:
		if vendorID == PCI_VENDOR_ID_RME {
			return HDSPE_AIO_PRO
		}
		return HDSPE_AIO
	case HDSPE_MADIFACE_REV:
		return HDSPE_MADIFACE
	}

	if firmwareRev == 0xf0 || (firmwareRev >= 0xe6 && firmwareRev <= 0xea) {
		return HDSPE_AES
	}
	if firmwareRev == 0xd2 || (firmwareRev >= 0xc8 && firmwareRev <= 0xcf) {
		return HDSPE_MADI
	}

	return HDSPE_IO_TYPE_INVALID
}

// readSerial decodes the card serial number. Newer cards carry it as
// ASCII digits in the barcode registers; older ones report it in the
// upper bytes of the first MIDI status register. A zero return means no
// sane serial number is available (old PCI revisions).
func (h *Device) readSerial() uint32 {
	if h.ioType == HDSPE_MADIFACE {
		return 0
	}

	if serial := h.readSerialBarcode(); serial != 0 {
		return serial
	}

	serial := (h.io.Read(HDSPE_midiStatusIn0) >> 8) & 0xffffff
	if serial == 0xffffff {
		// Old PCI revision without a sane serial number.
		return 0
	}

	return serial
}

func (h *Device) readSerialBarcode() uint32 {
	var barcode [8]byte
	w0 := h.io.Read(HDSPE_RD_BARCODE0)
	w1 := h.io.Read(HDSPE_RD_BARCODE1)
	for i := 0; i < 4; i++ {
		barcode[i] = byte(w0 >> (8 * i))
		barcode[4+i] = byte(w1 >> (8 * i))
	}

	var serial uint32
	for _, c := range barcode {
		if c >= '0' && c <= '9' {
			serial = serial*10 + uint32(c-'0')
		}
	}

	return serial
}
