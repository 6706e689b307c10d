package hdspe

import (
	"fmt"
	"time"
)

// Number of inter-arrival durations kept for the pull factor estimate.
const ltcCacheSize = 10

// Raw encoding sentinels for queued LTC output: a code with all data
// nibbles set means "derive the code from the wall clock", an all-ones
// frame count means "start now". LTCStartFromRaw and LTCStart.Raw
// translate between these patterns and the tagged representation.
const (
	hdspeLTCWallClock     = uint32(HDSPE_LTC32_Mask)
	hdspeLTCFrameCountNow = ^uint64(0)
)

type ltcStartMode int

const (
	ltcStartLiteral ltcStartMode = iota
	ltcStartNow
	ltcStartWallClock
)

// LTCStart describes a request to start outbound LTC: which code to
// emit and at which frame count it should begin.
type LTCStart struct {
	mode    ltcStartMode
	code    LTC32
	frame   uint64
	seconds int64
}

// LTCStartAt requests the given code to start at a literal frame count.
func LTCStartAt(code LTC32, frame uint64) LTCStart {
	return LTCStart{mode: ltcStartLiteral, code: code & HDSPE_LTC32_Mask, frame: frame}
}

// LTCStartNow requests the given code to start as soon as the hardware
// pipeline allows.
func LTCStartNow(code LTC32) LTCStart {
	return LTCStart{mode: ltcStartNow, code: code & HDSPE_LTC32_Mask}
}

// LTCStartWallClock requests a code derived from the real time clock
// plus an offset in seconds (typically the timezone offset east of UTC),
// with sub-second correction from the host clock.
func LTCStartWallClock(secondsEast int64) LTCStart {
	return LTCStart{mode: ltcStartWallClock, seconds: secondsEast}
}

// LTCStartFromRaw interprets the raw register encoding of an output
// request, recognizing the wall clock and "now" sentinel patterns.
func LTCStartFromRaw(code uint32, frame uint64) LTCStart {
	if code&hdspeLTCWallClock == hdspeLTCWallClock {
		return LTCStartWallClock(int64(frame))
	}
	if frame == hdspeLTCFrameCountNow {
		return LTCStartNow(LTC32(code))
	}

	return LTCStartAt(LTC32(code), frame)
}

// Raw returns the hardware bit pattern encoding of the request.
func (s LTCStart) Raw() (code uint32, frame uint64) {
	switch s.mode {
	case ltcStartWallClock:
		return hdspeLTCWallClock, uint64(s.seconds)
	case ltcStartNow:
		return uint32(s.code), hdspeLTCFrameCountNow
	default:
		return uint32(s.code), s.frame
	}
}

// TCO holds the runtime state of the Time Code Option module. It is
// allocated when the module is detected at device initialization and
// shares the device instance lock.
type TCO struct {
	fwVersion uint8
	reg       [4]uint32 // cached control words

	// Configuration, mutated only through the validated setters.
	input         TCOSource
	ltcFPS        LTCFrameRate
	ltcDrop       bool
	sampleRate    TCOSampleRate
	pull          TCOPull
	wckConversion WCKConversion
	term          bool
	ltcRun        bool
	ltcFlywheel   bool
	wckOutSpeed   TCOSpeed

	// Inbound LTC as published at the last period interrupt.
	ltcIn           LTC32
	ltcInFrameCount uint64
	ltcTime         uint64
	ltcChanged      bool

	// Outbound LTC: a queued request is consumed at the next period
	// interrupt; ltcSet tracks the two-phase arm/clear handshake of
	// the set-TC control bit.
	pending *LTCStart
	ltcSet  bool

	// Pull factor estimator: ring of the last ltcCacheSize durations
	// between qualifying MTC messages, plus their running sum.
	prevLTCTime    int64
	ltcCount       int
	ltcDuration    [ltcCacheSize]int64
	ltcDurationSum int64
	pullFactor     int32
	lastPullFactor int32

	lastStatus TCOStatus
}

// TCOStatus is a consistent point-in-time snapshot of the TCO module's
// published state, for diagnostic and reporting use.
type TCOStatus struct {
	FwVersion uint8

	LTCIn           LTC32
	LTCInFrameCount uint64
	LTCTime         uint64
	LTCInOffset     uint16
	LTCValid        bool
	LTCInFrameRate  LTCFrameRate
	LTCInDrop       bool
	Lock            bool
	WCKValid        bool
	WCKSpeed        TCOSpeed
	Video           VideoFormat
	VideoInFPS      uint8
	FSPeriodCounter uint16
	PullFactor      int32

	// Configuration echo.
	Source        TCOSource
	FrameRate     LTCFrameRate
	Drop          bool
	SampleRate    TCOSampleRate
	Pull          TCOPull
	WCKConversion WCKConversion
	Term          bool
	Run           bool
	Flywheel      bool
	WCKOutSpeed   TCOSpeed
}

// initTCO detects the optional TCO module and brings it up. MADI and AES
// report the detect bit in status register 0, the RayDAT / AIO family in
// status register 2.
func (h *Device) initTCO() {
	var detected bool
	switch h.ioType {
	case HDSPE_MADI, HDSPE_AES:
		detected = decodeStatus0(h.io.Read(HDSPE_statusRegister0)).TCODetect
	case HDSPE_RAYDAT, HDSPE_AIO, HDSPE_AIO_PRO:
		detected = h.io.Read(HDSPE_statusRegister2)&HDSPE_status2TCODetect != 0
	}
	if !detected {
		return
	}

	h.tco = &TCO{}
	h.addTCOMIDIPort()

	h.tco.writeSettingsLocked(h)
	h.tco.fwVersion = uint8((h.readTCO(3) >> 24) & 0x7f)

	h.log.Info("TCO module found", "firmware", h.tco.fwVersion)
}

// TCOStatus returns a lock-protected snapshot of all published TCO
// fields. Reading the status registers outside a period interrupt is
// only trustworthy while the audio engine is stopped, but the published
// inbound LTC fields always reflect the last period interrupt.
func (h *Device) TCOStatus() (TCOStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tco == nil {
		return TCOStatus{}, fmt.Errorf("hdspe: no TCO module detected")
	}

	return h.tco.statusLocked(h), nil
}

func (c *TCO) statusLocked(h *Device) TCOStatus {
	var s TCOStatus
	s.FwVersion = c.fwVersion
	s.LTCIn = c.ltcIn
	s.LTCInFrameCount = c.ltcInFrameCount
	s.LTCTime = c.ltcTime
	s.PullFactor = c.pullFactor

	c.readStatus1Locked(h, &s)
	c.readStatus2Locked(h, &s)

	s.Source = c.input
	s.FrameRate = c.ltcFPS
	s.Drop = c.ltcDrop
	s.SampleRate = c.sampleRate
	s.Pull = c.pull
	s.WCKConversion = c.wckConversion
	s.Term = c.term
	s.Run = c.ltcRun
	s.Flywheel = c.ltcFlywheel
	s.WCKOutSpeed = c.wckOutSpeed

	return s
}

func (c *TCO) readStatus1Locked(h *Device, s *TCOStatus) {
	tco1 := h.readTCO(1)

	s.Lock = tco1&HDSPE_TCO1_TCO_lock != 0
	s.LTCValid = tco1&HDSPE_TCO1_LTC_Input_valid != 0
	s.LTCInFrameRate = LTCFrameRate(fieldGet(HDSPE_TCO1_LTC_Format, tco1))
	s.LTCInDrop = tco1&HDSPE_TCO1_set_drop_frame_flag != 0
	s.Video = VideoFormat(fieldGet(HDSPE_TCO1_Video_Input_Format, tco1))
	s.WCKValid = tco1&HDSPE_TCO1_WCK_Input_valid != 0
	s.WCKSpeed = TCOSpeed(fieldGet(HDSPE_TCO1_WCK_Input_Range, tco1))

	// The current time code started this many frames ago. Only updated
	// at period interrupt time while audio interrupts are enabled.
	s.LTCInOffset = unpackTCOOffset(tco1)
}

func (c *TCO) readStatus2Locked(h *Device, s *TCOStatus) {
	tco2 := h.readTCO(2)
	s.FSPeriodCounter = uint16(tco2&0x7f | (tco2&0x7f00)>>1)
	s.VideoInFPS = uint8((tco2 >> 27) & 0x0f)
}

// writeSettingsLocked composes the TCO control words from the current
// configuration and pushes all four to the hardware.
func (c *TCO) writeSettingsLocked(h *Device) {
	pullbits := [HDSPE_PULL_COUNT]uint32{
		0,
		HDSPE_TCO2_set_pull_up,
		HDSPE_TCO2_set_pull_down,
		HDSPE_TCO2_set_pull_up | HDSPE_TCO2_set_01_4,
		HDSPE_TCO2_set_pull_down | HDSPE_TCO2_set_01_4,
	}

	sys48kHz := h.singleSpeedRate() == 48000

	c.reg = [4]uint32{}

	c.reg[1] |= fieldPrep(HDSPE_TCO1_WCK_Input_Range, uint32(c.wckOutSpeed))
	c.reg[1] |= fieldPrep(HDSPE_TCO1_LTC_Format, uint32(c.ltcFPS))
	if c.ltcDrop {
		c.reg[1] |= HDSPE_TCO1_set_drop_frame_flag
	}

	c.reg[2] |= fieldPrep(HDSPE_TCO2_set_input, uint32(c.input))
	c.reg[2] |= fieldPrep(HDSPE_TCO2_WCK_IO_ratio, uint32(c.wckConversion))
	if c.sampleRate == HDSPE_TCO_SAMPLE_RATE_48 ||
		(c.sampleRate == HDSPE_TCO_SAMPLE_RATE_FROM_APP && sys48kHz) {
		c.reg[2] |= HDSPE_TCO2_set_freq
	}
	if c.sampleRate == HDSPE_TCO_SAMPLE_RATE_FROM_APP {
		c.reg[2] |= HDSPE_TCO2_set_freq_from_app
	}
	if c.term {
		c.reg[2] |= HDSPE_TCO2_set_term_75R
	}
	c.reg[2] |= pullbits[int(c.pull)%HDSPE_PULL_COUNT]
	if c.ltcRun {
		c.reg[2] |= HDSPE_TCO2_TC_run
	}
	if c.ltcFlywheel {
		c.reg[2] |= HDSPE_TCO2_set_flywheel
	}

	for n := uint32(0); n < 4; n++ {
		h.writeTCO(n, c.reg[n])
	}
}

// setAppSampleRateLocked re-pushes the TCO sample rate bit when the
// internal sample rate changed while the TCO sample rate mode follows
// the application.
func (c *TCO) setAppSampleRateLocked(h *Device) {
	if c.sampleRate != HDSPE_TCO_SAMPLE_RATE_FROM_APP {
		return
	}

	tco48kHz := c.reg[2]&HDSPE_TCO2_set_freq != 0
	sys48kHz := h.singleSpeedRate() == 48000

	if tco48kHz != sys48kHz {
		c.reg[2] &^= HDSPE_TCO2_set_freq
		if sys48kHz {
			c.reg[2] |= HDSPE_TCO2_set_freq
		}
		h.writeTCO(2, c.reg[2])
	}
}

// sampleRateLocked returns the sample rate the TCO module runs at.
func (c *TCO) sampleRateLocked() uint32 {
	if c.reg[2]&HDSPE_TCO2_set_freq != 0 {
		return 48000
	}

	return 44100
}

// ltcCalibration returns the empirically determined output start bias in
// samples for a frame rate and sample rate. These constants cannot be
// computed from first principles; they were measured against hardware.
func ltcCalibration(fps uint32, freq FreqCode) int64 {
	type key struct {
		fps  uint32
		freq FreqCode
	}

	tab := map[key]int64{
		{24, HDSPE_FREQ_44_1KHZ}: 13,
		{24, HDSPE_FREQ_48KHZ}:   16,
		{25, HDSPE_FREQ_44_1KHZ}: 15,
		{25, HDSPE_FREQ_48KHZ}:   16,
		{30, HDSPE_FREQ_44_1KHZ}: 13,
		{30, HDSPE_FREQ_48KHZ}:   14,
	}

	return tab[key{fps, freq}]
}

// setTimecodeLocked queues a time code and start offset in the TCO
// control registers together with the set-TC flag, arming the output.
// The hardware latches the value at the next period interrupt.
func (c *TCO) setTimecodeLocked(h *Device, tc LTC32, offset uint16) {
	h.writeTCO(0, uint32(tc))
	h.writeTCO(1, packTCOOffset(offset)<<16|HDSPE_TCO1_set_TC|c.reg[1]&0xffff)
	c.ltcSet = true
}

// resetTimecodeLocked clears the set-TC flag after the hardware has
// latched the queued time code.
func (c *TCO) resetTimecodeLocked(h *Device) {
	h.writeTCO(1, c.reg[1]&0xffff&^HDSPE_TCO1_set_TC)
	c.ltcSet = false
}

// startTimecodeLocked consumes the pending output request. Runs at
// period interrupt time: the register write is picked up by the TCO
// module only at the next period interrupt, so the earliest possible
// start is two period boundaries ahead. Earlier targets are advanced by
// whole LTC frames; later ones are recorded as a negative compensation
// without moving the start before the floor.
func (c *TCO) startTimecodeLocked(h *Device) {
	req := *c.pending
	c.pending = nil

	sr := c.sampleRateLocked()
	speed := int64(h.control.Freq.SpeedFactor())
	cfc := int64(h.frameCount) / speed
	ps := int64(h.periodSize) / speed
	fps := c.ltcFPS.FPS()
	scale := c.ltcFPS.Scale()

	// Nominal LTC frame duration in single speed samples.
	fs := int64(sr) * 1000 / int64(fps*scale)

	tc := req.code
	var fc int64
	switch req.mode {
	case ltcStartWallClock:
		now := h.now()
		t := now.UTC().Add(time.Duration(req.seconds) * time.Second)
		tc = ComposeLTC(t.Hour(), t.Minute(), t.Second(), 0)
		fc = cfc - int64(now.Nanosecond())/(1000000000/int64(sr))
	case ltcStartNow:
		fc = cfc
	default:
		fc = int64(req.frame) / speed
	}

	var n int64
	switch {
	case fc > cfc+2*ps+fs:
		n = -(fc - (cfc + 2*ps)) / fs
	case fc < cfc+2*ps:
		n = (cfc+2*ps-fc)/fs + 1
	}
	fc += n * fs
	tc = tc.AddFrames(n, c.ltcFPS, c.ltcDrop)

	// Pickup happens at the next period interrupt.
	offset := fc - (cfc + ps)
	offset -= ltcCalibration(fps, FreqCodeFor(sr))

	if offset < 0 || offset&^0x3fff != 0 {
		h.log.Warn("LTC output offset out of range, truncating",
			"offset", offset, "max", 0x3fff)
	}

	c.setTimecodeLocked(h, tc, uint16(offset&0x3fff))

	c.reg[2] |= HDSPE_TCO2_TC_run
	h.writeTCO(2, c.reg[2])
	c.ltcRun = true
	h.notifyControl("LTC Run")
}

func (c *TCO) stopTimecodeLocked(h *Device) {
	c.reg[2] &^= HDSPE_TCO2_TC_run
	h.writeTCO(2, c.reg[2])
	c.ltcRun = false
}

// StartLTCOutput queues an outbound LTC request. The request is
// processed at the next period interrupt; the audio engine must be
// running for LTC output to start.
func (h *Device) StartLTCOutput(start LTCStart) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tco == nil {
		return fmt.Errorf("hdspe: no TCO module detected")
	}

	h.tco.pending = &start

	return nil
}

// StopLTCOutput stops outbound LTC by clearing the run bit. The stop is
// applied synchronously and visible to the next interrupt.
func (h *Device) StopLTCOutput() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tco == nil {
		return fmt.Errorf("hdspe: no TCO module detected")
	}

	h.tco.pending = nil
	h.tco.stopTimecodeLocked(h)

	return nil
}

// inboundLTC is the decoded state of the inbound LTC registers.
type inboundLTC struct {
	tc   LTC32
	fc   uint64
	rate LTCFrameRate
	drop bool
}

// readLTCLocked reads the inbound time code and its start frame count.
// The time code register can change between the two reads; a re-read
// keeps code and offset consistent.
func (c *TCO) readLTCLocked(h *Device) inboundLTC {
	tc := h.readTCO(0)
	tco1 := h.readTCO(1)
	if tc2 := h.readTCO(0); tc2 != tc {
		tc = tc2
		tco1 = h.readTCO(1)
	}

	// The offset is reported in output sample units; reduce it to the
	// device frame count's units by the current speed factor.
	offset := uint64(unpackTCOOffset(tco1)) / uint64(h.control.Freq.SpeedFactor())

	return inboundLTC{
		tc:   LTC32(tc) & HDSPE_LTC32_Mask,
		fc:   h.frameCount - offset,
		rate: LTCFrameRate(fieldGet(HDSPE_TCO1_LTC_Format, tco1)),
		drop: tco1&HDSPE_TCO1_set_drop_frame_flag != 0,
	}
}

// mtcLocked handles a raw MIDI time code message from the TCO MTC port.
// Full frame messages and quarter frame pieces 0 and 4 mark the precise
// end of a time code; their inter-arrival durations feed the pull factor
// estimator, updated incrementally against the running sum.
func (c *TCO) mtcLocked(h *Device, buf []byte) {
	var newtc bool

	if len(buf) == 10 &&
		buf[0] == 0xf0 && buf[1] == 0x7f && buf[2] == 0x7f &&
		buf[3] == 0x01 && buf[4] == 0x01 && buf[9] == 0xf7 {
		// Full time code message.
		newtc = true
	}
	if len(buf) == 2 && buf[0] == 0xf1 {
		piece := (buf[1] >> 4) & 0xf
		newtc = piece == 0 || piece == 4
	}

	if !newtc {
		return
	}

	now := h.now().UnixNano()
	if c.prevLTCTime > 0 {
		n := c.ltcCount % ltcCacheSize
		c.ltcDurationSum -= c.ltcDuration[n]
		c.ltcDuration[n] = now - c.prevLTCTime
		c.ltcDurationSum += c.ltcDuration[n]
	}
	c.prevLTCTime = now
	c.ltcCount++

	c.ltcChanged = true
}

// periodElapsedLocked is the TCO hook invoked once per audio interrupt,
// after the frame count update and before any consumer notification.
func (c *TCO) periodElapsedLocked(h *Device) {
	// Clock by which LTC frame starts are measured.
	c.ltcTime = h.frameCount

	if c.ltcChanged {
		ltc := c.readLTCLocked(h)

		// The register reports the last fully received code; advance
		// one frame, correct for forward running time code.
		ltc.tc = ltc.tc.Incr(ltc.rate, ltc.drop)

		c.ltcIn = ltc.tc
		c.ltcInFrameCount = ltc.fc
		c.ltcChanged = false
		h.notifyControl("LTC In")

		c.updatePullFactorLocked(h, ltc.rate)
	}

	if c.ltcSet {
		// The code queued at the previous interrupt is now latched by
		// the hardware; complete the arm/clear handshake.
		c.resetTimecodeLocked(h)
	}

	if c.pending != nil {
		// Queue the requested output; it is picked up by the hardware
		// at the next period interrupt.
		c.startTimecodeLocked(h)
	}
}

// updatePullFactorLocked estimates the effective inbound frame rate from
// the averaged inter-arrival durations and publishes the pull factor in
// parts-per-thousand of the nominal rate. 1000 means nominal speed, 999
// NTSC pulldown.
func (c *TCO) updatePullFactorLocked(h *Device, rate LTCFrameRate) {
	fps := int64(rate.FPS())

	// Implausibly short inter-arrival durations (a burst of messages
	// within microseconds) would zero the divisor; treat them like an
	// empty ring and report the nominal rate.
	var realFPS1k int64
	if avg := c.ltcDurationSum / (ltcCacheSize * 1000); avg > 0 {
		realFPS1k = 1000000000 / avg
	} else {
		realFPS1k = fps * 1000
	}

	c.pullFactor = int32((realFPS1k + fps/2) / fps)
	if c.pullFactor != c.lastPullFactor {
		h.notifyControl("LTC In Pull Factor")
	}
	c.lastPullFactor = c.pullFactor
}

// notifyStatusChangeLocked diffs the hardware status against the last
// scan and notifies each changed field. Driven from the status polling
// work context.
func (c *TCO) notifyStatusChangeLocked(h *Device) bool {
	o := c.lastStatus
	var n TCOStatus
	c.readStatus1Locked(h, &n)
	c.readStatus2Locked(h, &n)

	changed := false
	check := func(name string, same bool) {
		if !same {
			h.notifyControl(name)
			changed = true
		}
	}

	check("LTC In Valid", n.LTCValid == o.LTCValid)
	check("LTC In Frame Rate", n.LTCInFrameRate == o.LTCInFrameRate)
	check("LTC In Drop Frame", n.LTCInDrop == o.LTCInDrop)
	check("TCO Video Format", n.Video == o.Video)
	check("TCO Video Frame Rate", n.VideoInFPS == o.VideoInFPS)
	check("TCO WordClk Valid", n.WCKValid == o.WCKValid)
	check("TCO WordClk Speed", n.WCKSpeed == o.WCKSpeed)
	check("TCO Lock", n.Lock == o.Lock)

	c.lastStatus = n

	return changed
}
