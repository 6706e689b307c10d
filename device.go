package hdspe

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Device represents one HDSPe card instance. All mutable shared state
// (the register cache, the frame counter and the TCO runtime) is guarded
// by a single per-instance lock, taken by the interrupt path, the
// deferred work contexts and the user-facing setters alike.
type Device struct {
	mu sync.Mutex
	io RegisterIO

	log    *slog.Logger
	ioType IOType
	serial uint32

	// Register cache. control mirrors what was last written; status0 is
	// the snapshot taken at the start of the current interrupt.
	control    ControlReg
	status0    Status0
	rawStatus0 uint32

	// Frame counter state.
	periodSize    uint32
	hwBufferSize  uint32
	lastHwPointer uint32
	wrapCount     uint64
	frameCount    uint64
	irqCount      uint64

	midi               []*midiPort
	midiIRQPendingMask uint32
	midiDrain          func(port int)

	tco *TCO

	consumers [2]func() // period-elapsed consumers, indexed by Direction

	statusPolling   int // status refreshes per second, 0 disables
	lastStatusCheck time.Time

	notify func(name string)
	now    func() time.Time

	controls    []*Control
	controlsMap map[string]*Control

	midiWork   *workQueue
	statusWork *workQueue

	closed bool
}

// Option configures a Device during New.
type Option func(*Device)

// WithLogger sets the logger used for warnings and debug output.
func WithLogger(log *slog.Logger) Option {
	return func(h *Device) { h.log = log }
}

// WithClock overrides the wall clock source, used for wall clock based
// LTC output and MIDI time code arrival timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Device) { h.now = now }
}

// WithStatusPolling sets the rate, in refreshes per second, at which the
// interrupt handler schedules status change scans. Zero disables polling.
func WithStatusPolling(rate int) Option {
	return func(h *Device) { h.statusPolling = rate }
}

// New initializes a card behind the given register access and returns
// the device instance. The control register is programmed with safe
// defaults (4096-frame periods, 44.1 kHz, line out enabled) and the
// optional TCO module is detected and initialized if present.
func New(io RegisterIO, ioType IOType, opts ...Option) (*Device, error) {
	if io == nil {
		return nil, fmt.Errorf("hdspe: nil register access")
	}
	if _, ok := IOTypeNames[ioType]; !ok {
		return nil, fmt.Errorf("hdspe: unknown io type %d", ioType)
	}

	h := &Device{
		io:          io,
		ioType:      ioType,
		log:         slog.Default(),
		now:         time.Now,
		controlsMap: make(map[string]*Control),
	}

	for _, opt := range opts {
		opt(h)
	}

	h.control = ControlReg{
		Latency: 6,
		Freq:    HDSPE_FREQ_44_1KHZ,
		LineOut: true,
		Master:  true,
	}
	h.writeControlLocked()
	h.setPeriodSizeLocked()

	h.serial = h.readSerial()

	h.initMIDIPorts()
	h.initTCO()
	h.createControls()

	h.midiWork = newWorkQueue()
	h.statusWork = newWorkQueue()

	return h, nil
}

// IOType returns the card model.
func (h *Device) IOType() IOType {
	return h.ioType
}

// Serial returns the card serial number, or 0 if the card has none.
func (h *Device) Serial() uint32 {
	return h.serial
}

// HasTCO reports whether the optional TCO module was detected.
func (h *Device) HasTCO() bool {
	return h.tco != nil
}

// SampleRate returns the current system sample rate in Hz.
func (h *Device) SampleRate() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return FreqCodeRates[h.control.Freq]
}

// SetSampleRate programs the internal sample rate. The TCO module is
// kept in sync when its sample rate mode follows the application.
func (h *Device) SetSampleRate(rate uint32) error {
	code := FreqCodeFor(rate)
	if code == HDSPE_FREQ_NO_LOCK {
		return fmt.Errorf("hdspe: unsupported sample rate %d", rate)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.control.Freq == code {
		return nil
	}

	h.control.Freq = code
	h.writeControlLocked()

	if h.tco != nil {
		h.tco.setAppSampleRateLocked(h)
	}

	return nil
}

// SetPeriodConsumer registers the period-elapsed notification for one
// stream direction. A nil fn removes the consumer. The callback runs on
// the interrupt path and must not call back into the Device.
func (h *Device) SetPeriodConsumer(dir Direction, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consumers[dir&1] = fn
}

// SetNotifyFunc registers the control change notification callback,
// invoked with the control name whenever a published value changes. The
// callback may run on the interrupt path and must not call back into
// the Device.
func (h *Device) SetNotifyFunc(fn func(name string)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.notify = fn
}

// SetMIDIDrainFunc registers the collaborator that drains a MIDI port's
// input FIFO. It runs on the high priority work context; the port's
// interrupt is re-enabled when it returns.
func (h *Device) SetMIDIDrainFunc(fn func(port int)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.midiDrain = fn
}

// SetStatusPolling sets the status refresh rate in refreshes per second.
func (h *Device) SetStatusPolling(rate int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.statusPolling = rate
}

// StartAudio enables the audio engine and its period interrupt, plus the
// TCO MTC input port interrupt if a TCO module is present.
func (h *Device) StartAudio() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tco != nil {
		// The TCO MTC port is always the last one.
		h.control.MidiIE |= h.midi[len(h.midi)-1].ie
	}

	h.control.Start = true
	h.control.IEAudio = true
	h.writeControlLocked()
}

// StopAudio stops the audio engine and cancels all interrupts.
func (h *Device) StopAudio() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopAudioLocked()
}

func (h *Device) stopAudioLocked() {
	h.control.Start = false
	h.control.IEAudio = false
	h.control.MidiIE = 0
	h.writeControlLocked()
}

// Running reports whether the audio engine is started.
func (h *Device) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.control.Start
}

// Close stops the card: interrupts are cancelled, outbound LTC is
// stopped and reset, and the deferred work contexts are drained before
// the instance is torn down.
func (h *Device) Close() error {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true

	h.stopAudioLocked()
	if h.tco != nil {
		h.tco.stopTimecodeLocked(h)
		h.tco.resetTimecodeLocked(h)
	}
	h.mu.Unlock()

	h.midiWork.drain()
	h.statusWork.drain()

	return nil
}

// singleSpeedRate reduces the system sample rate to its single speed
// base: 44100 or 48000. The TCO module always runs at single speed.
func (h *Device) singleSpeedRate() uint32 {
	return FreqCodeRates[h.control.Freq] / h.control.Freq.SpeedFactor()
}

// writeControlLocked pushes the cached control word to the hardware.
// Caller holds the lock.
func (h *Device) writeControlLocked() {
	h.io.Write(HDSPE_controlRegister, h.control.encode())
}

// notifyControl emits a control change notification if a callback is
// registered. Callable with or without the lock held.
func (h *Device) notifyControl(name string) {
	if fn := h.notify; fn != nil {
		fn(name)
	}
}

// Report renders a diagnostic status report, in the spirit of the proc
// interface of the kernel driver.
func (h *Device) Report() string {
	var b strings.Builder

	h.mu.Lock()
	fmt.Fprintf(&b, "Model             : %s\n", h.ioType)
	if h.serial != 0 {
		fmt.Fprintf(&b, "Serial            : %08d\n", h.serial)
	}
	fmt.Fprintf(&b, "Sample Rate       : %d Hz\n", FreqCodeRates[h.control.Freq])
	fmt.Fprintf(&b, "Period Size       : %d frames\n", h.periodSize)
	fmt.Fprintf(&b, "Buffer Size       : %d frames\n", h.hwBufferSize)
	fmt.Fprintf(&b, "Buffer Pointer    : %d frames\n", h.hwPointer())
	fmt.Fprintf(&b, "Frame Count       : %d\n", h.frameCount)
	fmt.Fprintf(&b, "Interrupts        : %d\n", h.irqCount)
	fmt.Fprintf(&b, "Running           : %v\n", h.control.Start)
	hasTCO := h.tco != nil
	h.mu.Unlock()

	if !hasTCO {
		fmt.Fprintf(&b, "TCO               : not detected\n")
		return b.String()
	}

	s, _ := h.TCOStatus()
	fmt.Fprintf(&b, "TCO Firmware      : %d\n", s.FwVersion)
	drop := ':'
	if s.LTCInDrop {
		drop = '.'
	}
	hh, mm, ss, ff := s.LTCIn.Split()
	fmt.Fprintf(&b, "LTC               : %02d:%02d:%02d%c%02d\n", hh, mm, ss, drop, ff)
	fmt.Fprintf(&b, "TCO Lock          : %v\n", s.Lock)
	fmt.Fprintf(&b, "LTC Valid         : %v\n", s.LTCValid)
	fmt.Fprintf(&b, "LTC In Frame Rate : %s\n", LTCFrameRateNames[s.LTCInFrameRate])
	fmt.Fprintf(&b, "Video Input       : %s\n", VideoFormatNames[s.Video])
	fmt.Fprintf(&b, "WordClk Valid     : %v\n", s.WCKValid)
	fmt.Fprintf(&b, "WordClk Speed     : %s\n", TCOSpeedNames[s.WCKSpeed])
	fmt.Fprintf(&b, "Pull Factor       : %d\n", s.PullFactor)
	fmt.Fprintf(&b, "Sync Source       : %s\n", TCOSourceNames[s.Source])
	fmt.Fprintf(&b, "LTC Frame Rate    : %s\n", LTCFrameRateNames[s.FrameRate])
	fmt.Fprintf(&b, "LTC Drop Frame    : %v\n", s.Drop)
	fmt.Fprintf(&b, "LTC Sample Rate   : %s\n", TCOSampleRateNames[s.SampleRate])
	fmt.Fprintf(&b, "WordClk Conversion: %s\n", WCKConversionNames[s.WCKConversion])
	fmt.Fprintf(&b, "Pull Up / Down    : %s\n", TCOPullNames[s.Pull])
	fmt.Fprintf(&b, "75 Ohm Term       : %v\n", s.Term)
	fmt.Fprintf(&b, "LTC Run           : %v\n", s.Run)

	return b.String()
}
