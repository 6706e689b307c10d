package hdspe

import (
	"fmt"
	"math/bits"
)

// RegisterIO provides synchronous access to the card's 32-bit registers.
// Reads and writes are little-endian on the wire and must be free of side
// effects when repeated; both requirements are met by the memory-mapped
// PCI implementation and by simulated register files.
type RegisterIO interface {
	Read(reg uint32) uint32
	Write(reg uint32, value uint32)
}

// Register byte offsets.
const (
	HDSPE_statusRegister0      = 0
	HDSPE_controlRegister      = 64
	HDSPE_interruptConfirmation = 96
	HDSPE_WR_TCO               = 128
	HDSPE_statusRegister2      = 192
	HDSPE_RD_TCO               = 256
	HDSPE_midiDataIn0          = 360
	HDSPE_RD_BARCODE0          = 368
	HDSPE_RD_BARCODE1          = 372
	HDSPE_midiStatusIn0        = 392
)

// Control register bits.
const (
	HDSPE_Start                = 1 << 0
	HDSPE_Latency0             = 1 << 1
	HDSPE_Latency1             = 1 << 2
	HDSPE_Latency2             = 1 << 3
	HDSPE_ClockModeMaster      = 1 << 4
	HDSPE_AudioInterruptEnable = 1 << 5
	HDSPE_Frequency0           = 1 << 6
	HDSPE_Frequency1           = 1 << 7
	HDSPE_DoubleSpeed          = 1 << 8
	HDSPE_Midi0InterruptEnable = 1 << 22
	HDSPE_Midi1InterruptEnable = 1 << 23
	HDSPE_LineOut              = 1 << 24
	HDSPE_Midi2InterruptEnable = 1 << 25
	HDSPE_QuadSpeed            = 1 << 31

	HDSPE_LatencyMask   = HDSPE_Latency0 | HDSPE_Latency1 | HDSPE_Latency2
	HDSPE_FrequencyMask = HDSPE_Frequency0 | HDSPE_Frequency1 |
		HDSPE_DoubleSpeed | HDSPE_QuadSpeed
)

// Status register 0 bits. BUF_PTR counts 64-byte units; shifted left by 4
// it yields the hardware pointer in 4-byte sample frames.
const (
	HDSPE_statusAudioIRQ  = 1 << 0
	HDSPE_statusBufferID  = 1 << 1
	HDSPE_statusMidi0IRQ  = 1 << 2
	HDSPE_statusMidi1IRQ  = 1 << 3
	HDSPE_statusMidi2IRQ  = 1 << 4
	HDSPE_statusTCODetect = 1 << 5 // MADI and AES only

	HDSPE_statusBufPtrShift = 16
	HDSPE_statusBufPtrMask  = 0xffff0000
)

// Status register 2 bits (RayDAT / AIO / AIO Pro).
const (
	HDSPE_status2TCODetect = 1 << 10
)

// ControlReg is the decoded control word.
type ControlReg struct {
	Start   bool
	IEAudio bool
	LineOut bool
	Master  bool
	Latency uint8 // 3-bit latency code
	Freq    FreqCode
	MidiIE  uint32 // raw mask of MIDI interrupt enable bits
}

// encode packs the control word, masking every field to its bit range so
// that no field can spill into a neighboring one.
func (c ControlReg) encode() uint32 {
	var v uint32

	if c.Start {
		v |= HDSPE_Start
	}
	if c.IEAudio {
		v |= HDSPE_AudioInterruptEnable
	}
	if c.LineOut {
		v |= HDSPE_LineOut
	}
	if c.Master {
		v |= HDSPE_ClockModeMaster
	}

	v |= (uint32(c.Latency) << 1) & HDSPE_LatencyMask
	v |= c.MidiIE & (HDSPE_Midi0InterruptEnable | HDSPE_Midi1InterruptEnable | HDSPE_Midi2InterruptEnable)

	f := c.Freq
	switch {
	case f >= HDSPE_FREQ_128KHZ:
		v |= HDSPE_QuadSpeed
		f -= 6
	case f >= HDSPE_FREQ_64KHZ:
		v |= HDSPE_DoubleSpeed
		f -= 3
	}
	if f&1 != 0 {
		v |= HDSPE_Frequency0
	}
	if f&2 != 0 {
		v |= HDSPE_Frequency1
	}

	return v
}

// Status0 is the decoded status word, the authoritative snapshot taken
// once per interrupt invocation.
type Status0 struct {
	AudioIRQ  bool
	BufferID  bool
	MidiIRQ   uint32 // raw mask of pending MIDI interrupt bits
	TCODetect bool
	BufPtr    uint16 // hardware pointer in 64-byte units
}

func decodeStatus0(v uint32) Status0 {
	return Status0{
		AudioIRQ:  v&HDSPE_statusAudioIRQ != 0,
		BufferID:  v&HDSPE_statusBufferID != 0,
		MidiIRQ:   v & (HDSPE_statusMidi0IRQ | HDSPE_statusMidi1IRQ | HDSPE_statusMidi2IRQ),
		TCODetect: v&HDSPE_statusTCODetect != 0,
		BufPtr:    uint16((v & HDSPE_statusBufPtrMask) >> HDSPE_statusBufPtrShift),
	}
}

/*
 * TCO register layout. Four status words at HDSPE_RD_TCO, four control
 * words at HDSPE_WR_TCO.
 *
 * TCO0: the time code, packed BCD: frame units bits 0-3, frame tens bits
 * 4-5, second units bits 8-11, second tens bits 12-14, minute units bits
 * 16-19, minute tens bits 20-22, hour units bits 24-27, hour tens bits
 * 28-29. Bits 7, 15, 23 and 31 are sync bits set by the hardware.
 *
 * TCO1 status: bit 0 TCO lock, bits 1-2 WCK input range, bit 3 LTC input
 * valid, bit 4 WCK input valid, bits 5-6 video format (NTSC/PAL), bit 9
 * LTC rx drop frame, bits 10-11 LTC rx frame rate, bits 12-13 quarter
 * frame number, bit 14 new quarter frame. Bits 16-22 and 24-30 hold the
 * sample offset since the start of the current time code, as two groups
 * of 7 bits.
 *
 * TCO1 control: bits 1-2 WCK output range, bit 8 set-TC (rising edge
 * arms the queued time code), bit 9 LTC tx drop frame, bits 10-11 LTC tx
 * frame rate, bits 16-22/24-30 sample offset for output start.
 *
 * TCO2 status: bits 0-6/8-14 WCK period counter, bits 27-30 video input
 * frame rate. TCO2 control: bit 16 TC run, bits 17-18 WCK I/O ratio,
 * bit 22 flywheel, bit 24 0.1/4% select, bit 25 pull down, bit 26 pull
 * up, bit 27 sample rate (0=44.1, 1=48), bit 28 75 Ohm termination,
 * bits 29-30 sync source, bit 31 sample rate from app.
 *
 * TCO3 status: bits 24-30 firmware version.
 *
 * Every byte lane's top bit is a sync bit: the hardware sets it on
 * readback and it must never be echoed into a write.
 */
const (
	HDSPE_TCO1_TCO_lock           = 0x00000001
	HDSPE_TCO1_WCK_Input_Range    = 0x00000006
	HDSPE_TCO1_LTC_Input_valid    = 0x00000008
	HDSPE_TCO1_WCK_Input_valid    = 0x00000010
	HDSPE_TCO1_Video_Input_Format = 0x00000060

	HDSPE_TCO1_set_TC              = 0x00000100
	HDSPE_TCO1_set_drop_frame_flag = 0x00000200
	HDSPE_TCO1_LTC_Format          = 0x00000c00

	HDSPE_TCO2_TC_run        = 0x00010000
	HDSPE_TCO2_WCK_IO_ratio  = 0x00060000
	HDSPE_TCO2_set_flywheel  = 0x00400000
	HDSPE_TCO2_set_01_4      = 0x01000000
	HDSPE_TCO2_set_pull_down = 0x02000000
	HDSPE_TCO2_set_pull_up   = 0x04000000
	HDSPE_TCO2_set_freq      = 0x08000000
	HDSPE_TCO2_set_term_75R  = 0x10000000
	HDSPE_TCO2_set_input     = 0x60000000
	HDSPE_TCO2_set_freq_from_app = 0x80000000

	// Writes must never echo the per-byte sync bits.
	hdspeTCOWriteMask = 0x7f7f7f7f
)

// readTCO reads TCO status word n.
func (h *Device) readTCO(n uint32) uint32 {
	return h.io.Read(HDSPE_RD_TCO + 4*n)
}

// writeTCO writes TCO control word n, clearing the sync bit of every
// byte lane.
func (h *Device) writeTCO(n uint32, value uint32) {
	h.io.Write(HDSPE_WR_TCO+4*n, value&hdspeTCOWriteMask)
}

// packTCOOffset spreads a 14-bit sample offset over two groups of 7 bits,
// the layout the TCO module expects in control word 1 (the groups land in
// bits 16-22 and 24-30 once shifted into place).
func packTCOOffset(offset uint16) uint32 {
	return (uint32(offset&0x3f80) << 1) | uint32(offset&0x7f)
}

// unpackTCOOffset recombines the two 7-bit groups of TCO status word 1
// into a 14-bit sample offset.
func unpackTCOOffset(tco1 uint32) uint16 {
	return uint16((tco1>>16)&0x7f | (tco1>>17)&0x3f80)
}

// fieldGet extracts a field identified by a contiguous mask.
func fieldGet(mask, v uint32) uint32 {
	return (v & mask) >> bits.TrailingZeros32(mask)
}

// fieldPrep places a value into the field identified by a contiguous mask.
// Values wider than the field are a programming error.
func fieldPrep(mask, v uint32) uint32 {
	shifted := v << bits.TrailingZeros32(mask)
	if shifted&^mask != 0 {
		panic(fmt.Sprintf("hdspe: field value %#x overflows mask %#x", v, mask))
	}

	return shifted
}
