package hdspe

import "fmt"

// Hardware pointer wrap period in frames. The pointer register covers
// 64 KiB of 4-byte frames on every card family, so it wraps every 16384
// frames regardless of the programmed buffer size.
const hdspeHwBufferFrames = (1 << 16) / 4

// PeriodSizeFromLatency maps a 3-bit latency code to the period size in
// frames. The three latency bits encode 64 samples as 0, 128 as 1 and so
// on up to 4096 as 6. Code 7 means 8192 samples on MADI and AES cards;
// on RayDAT / AIO cards, which support small buffers, it means 32.
func PeriodSizeFromLatency(code uint8, ioType IOType) uint32 {
	if code > 7 {
		panic(fmt.Sprintf("hdspe: latency code %d out of range", code))
	}

	if code == 7 && ioType.isRaydatOrAio() {
		return 32
	}

	return 64 << code
}

// latencyFromPeriodSize is the inverse mapping used when programming the
// interrupt interval.
func latencyFromPeriodSize(frames uint32, ioType IOType) uint8 {
	if frames == 32 && ioType.isRaydatOrAio() {
		return 7
	}

	var n uint8
	for frames >>= 7; frames != 0; frames >>= 1 {
		n++
	}

	return n
}

// PeriodSize returns the current period size in frames.
func (h *Device) PeriodSize() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.periodSize
}

// FrameCount returns the monotonic frame count as of the start of the
// most recently completed period.
func (h *Device) FrameCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.frameCount
}

// hwPointer returns the hardware buffer pointer in frames, masked to the
// ring buffer size. Caller holds the lock.
func (h *Device) hwPointer() uint32 {
	return (uint32(h.status0.BufPtr) << 4) & (h.hwBufferSize - 1)
}

// setPeriodSizeLocked derives periodSize and hwBufferSize from the
// latency code in the cached control word. RayDAT / AIO cards have a
// fixed ring buffer of 16384 frames per channel; the older cards run a
// double buffer of two periods.
func (h *Device) setPeriodSizeLocked() {
	h.periodSize = PeriodSizeFromLatency(h.control.Latency, h.ioType)
	if h.ioType.isRaydatOrAio() {
		h.hwBufferSize = hdspeHwBufferFrames
	} else {
		h.hwBufferSize = 2 * h.periodSize
	}
}

// SetInterruptInterval programs the audio interrupt interval in frames.
// The period size must be a power of two within the range the card
// supports. Observers are notified of the buffer size change.
func (h *Device) SetInterruptInterval(frames uint32) error {
	minFrames := uint32(64)
	if h.ioType.isRaydatOrAio() {
		minFrames = 32
	}
	maxFrames := uint32(8192)
	if h.ioType.isRaydatOrAio() {
		maxFrames = 4096
	}

	if frames < minFrames || frames > maxFrames || frames&(frames-1) != 0 {
		return fmt.Errorf("hdspe: period size %d not supported by %s", frames, h.ioType)
	}

	h.mu.Lock()
	h.control.Latency = latencyFromPeriodSize(frames, h.ioType)
	h.writeControlLocked()
	h.setPeriodSizeLocked()
	h.mu.Unlock()

	h.notifyControl("Buffer Size")

	return nil
}

// updateFrameCountLocked is called once per audio interrupt, before any
// consumer is notified. It detects at most one wrap of the hardware
// pointer since the previous invocation, which holds as long as
// interrupts are serviced at least once per wrap period (a few times per
// second). Wraps are counted on the raw unmasked pointer, which runs
// over the full 16384 frame range on every card family, so the count
// stays monotonic across interrupt interval changes. The count is
// masked to the period boundary so that it refers to the start of the
// just completed period, a stable reference for time code arithmetic.
func (h *Device) updateFrameCountLocked() {
	ptr := uint32(h.status0.BufPtr) << 4
	if ptr < h.lastHwPointer {
		h.wrapCount++
	}
	h.lastHwPointer = ptr

	h.frameCount = h.wrapCount*hdspeHwBufferFrames +
		uint64(ptr&^(h.periodSize-1))
}
