package hdspe

import "fmt"

// ControlType describes the value domain of a Control.
type ControlType int

const (
	ControlBool ControlType = iota
	ControlEnum
	ControlInt
	ControlInt64
)

// Control is one entry of the generic control dispatch table. All
// controls carry int64 values; enum controls index into Items, bool
// controls use 0 and 1. The get and put closures run with the instance
// lock held.
type Control struct {
	Name     string
	Type     ControlType
	Items    []string
	Min, Max int64
	ReadOnly bool

	get func() int64
	put func(v int64) bool // reports whether the value changed
}

// Controls returns the control table.
func (h *Device) Controls() []*Control {
	return h.controls
}

// Control looks up a control by name, or returns nil.
func (h *Device) Control(name string) *Control {
	return h.controlsMap[name]
}

// GetControl reads the current value of a named control.
func (h *Device) GetControl(name string) (int64, error) {
	c := h.controlsMap[name]
	if c == nil {
		return 0, fmt.Errorf("hdspe: no control named %q", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return c.get(), nil
}

// PutControl writes a control value after range validation and reports
// whether the value changed. Changes are notified under the control's
// own name.
func (h *Device) PutControl(name string, v int64) (bool, error) {
	c := h.controlsMap[name]
	if c == nil {
		return false, fmt.Errorf("hdspe: no control named %q", name)
	}
	if c.ReadOnly || c.put == nil {
		return false, fmt.Errorf("hdspe: control %q is read only", name)
	}
	if v < c.Min || v > c.Max {
		return false, fmt.Errorf("hdspe: control %q value %d out of range [%d, %d]",
			name, v, c.Min, c.Max)
	}

	h.mu.Lock()
	changed := c.put(v)
	h.mu.Unlock()

	if changed {
		h.notifyControl(name)
	}

	return changed, nil
}

func (h *Device) addControl(c *Control) {
	switch c.Type {
	case ControlBool:
		c.Max = 1
	case ControlEnum:
		c.Max = int64(len(c.Items)) - 1
	}

	h.controls = append(h.controls, c)
	h.controlsMap[c.Name] = c
}

// tcoConfigPut builds the put closure for one TCO configuration field:
// assign, push the settings and report whether anything changed.
func tcoConfigPut[T comparable](h *Device, field *T, conv func(int64) T) func(int64) bool {
	return func(v int64) bool {
		nv := conv(v)
		if *field == nv {
			return false
		}
		*field = nv
		h.tco.writeSettingsLocked(h)
		return true
	}
}

// createControls populates the dispatch table. Card-level controls are
// always present; the TCO block is added only when the module was
// detected.
func (h *Device) createControls() {
	h.addControl(&Control{
		Name: "Sample Rate", Type: ControlInt,
		Min: 32000, Max: 192000, ReadOnly: true,
		get: func() int64 { return int64(FreqCodeRates[h.control.Freq]) },
	})
	h.addControl(&Control{
		Name: "Buffer Size", Type: ControlInt,
		Min: 32, Max: 8192, ReadOnly: true,
		get: func() int64 { return int64(h.periodSize) },
	})
	h.addControl(&Control{
		Name: "Running", Type: ControlBool, ReadOnly: true,
		get: func() int64 { return boolInt(h.control.Start) },
	})

	if h.tco == nil {
		return
	}
	c := h.tco

	h.addControl(&Control{
		Name: "TCO Firmware", Type: ControlInt,
		Max: 127, ReadOnly: true,
		get: func() int64 { return int64(c.fwVersion) },
	})

	// Configuration.
	h.addControl(&Control{
		Name: "TCO Sync Source", Type: ControlEnum, Items: TCOSourceNames,
		get: func() int64 { return int64(c.input) },
		put: tcoConfigPut(h, &c.input, func(v int64) TCOSource { return TCOSource(v) }),
	})
	h.addControl(&Control{
		Name: "LTC Frame Rate", Type: ControlEnum, Items: LTCFrameRateNames,
		get: func() int64 { return int64(c.ltcFPS) },
		put: tcoConfigPut(h, &c.ltcFPS, func(v int64) LTCFrameRate { return LTCFrameRate(v) }),
	})
	h.addControl(&Control{
		Name: "LTC Drop Frame", Type: ControlBool,
		get: func() int64 { return boolInt(c.ltcDrop) },
		put: tcoConfigPut(h, &c.ltcDrop, func(v int64) bool { return v != 0 }),
	})
	h.addControl(&Control{
		Name: "LTC Sample Rate", Type: ControlEnum, Items: TCOSampleRateNames,
		get: func() int64 { return int64(c.sampleRate) },
		put: tcoConfigPut(h, &c.sampleRate, func(v int64) TCOSampleRate { return TCOSampleRate(v) }),
	})
	h.addControl(&Control{
		Name: "TCO Pull Up/Down", Type: ControlEnum, Items: TCOPullNames,
		get: func() int64 { return int64(c.pull) },
		put: tcoConfigPut(h, &c.pull, func(v int64) TCOPull { return TCOPull(v) }),
	})
	h.addControl(&Control{
		Name: "TCO WordClk Conversion", Type: ControlEnum, Items: WCKConversionNames,
		get: func() int64 { return int64(c.wckConversion) },
		put: tcoConfigPut(h, &c.wckConversion, func(v int64) WCKConversion { return WCKConversion(v) }),
	})
	h.addControl(&Control{
		Name: "TCO 75 Ohm Term", Type: ControlBool,
		get: func() int64 { return boolInt(c.term) },
		put: tcoConfigPut(h, &c.term, func(v int64) bool { return v != 0 }),
	})
	h.addControl(&Control{
		Name: "LTC Flywheel", Type: ControlBool,
		get: func() int64 { return boolInt(c.ltcFlywheel) },
		put: tcoConfigPut(h, &c.ltcFlywheel, func(v int64) bool { return v != 0 }),
	})
	h.addControl(&Control{
		Name: "TCO WordClk Out Speed", Type: ControlEnum, Items: TCOSpeedNames,
		get: func() int64 { return int64(c.wckOutSpeed) },
		put: tcoConfigPut(h, &c.wckOutSpeed, func(v int64) TCOSpeed { return TCOSpeed(v) }),
	})

	// Published inbound LTC and estimator state.
	h.addControl(&Control{
		Name: "LTC In", Type: ControlInt64,
		Max: int64(HDSPE_LTC32_Mask), ReadOnly: true,
		get: func() int64 { return int64(c.ltcIn) },
	})
	h.addControl(&Control{
		Name: "LTC In Frame Count", Type: ControlInt64,
		Max: int64(^uint64(0) >> 1), ReadOnly: true,
		get: func() int64 { return int64(c.ltcInFrameCount) },
	})
	h.addControl(&Control{
		Name: "LTC Time", Type: ControlInt64,
		Max: int64(^uint64(0) >> 1), ReadOnly: true,
		get: func() int64 { return int64(c.ltcTime) },
	})
	h.addControl(&Control{
		Name: "LTC In Pull Factor", Type: ControlInt,
		Max: 2000, ReadOnly: true,
		get: func() int64 { return int64(c.pullFactor) },
	})
	h.addControl(&Control{
		Name: "LTC Run", Type: ControlBool, ReadOnly: true,
		get: func() int64 { return boolInt(c.ltcRun) },
	})

	// Hardware status readouts.
	status := func(name string, typ ControlType, items []string, get func(*TCOStatus) int64) {
		h.addControl(&Control{
			Name: name, Type: typ, Items: items,
			Max: 127, ReadOnly: true,
			get: func() int64 {
				var s TCOStatus
				c.readStatus1Locked(h, &s)
				c.readStatus2Locked(h, &s)
				return get(&s)
			},
		})
	}

	status("LTC In Valid", ControlBool, nil,
		func(s *TCOStatus) int64 { return boolInt(s.LTCValid) })
	status("LTC In Frame Rate", ControlEnum, LTCFrameRateNames,
		func(s *TCOStatus) int64 { return int64(s.LTCInFrameRate) })
	status("TCO Lock", ControlBool, nil,
		func(s *TCOStatus) int64 { return boolInt(s.Lock) })
	status("TCO WordClk Valid", ControlBool, nil,
		func(s *TCOStatus) int64 { return boolInt(s.WCKValid) })
	status("TCO WordClk Speed", ControlEnum, TCOSpeedNames,
		func(s *TCOStatus) int64 { return int64(s.WCKSpeed) })
	status("TCO Video Format", ControlEnum, VideoFormatNames,
		func(s *TCOStatus) int64 { return int64(s.Video) })
	status("TCO Video Frame Rate", ControlInt, nil,
		func(s *TCOStatus) int64 { return int64(s.VideoInFPS) })
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
