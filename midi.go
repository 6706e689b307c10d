package hdspe

// midiPort tracks the interrupt triage state of one MIDI input port.
// Actual byte stream handling lives with the drain collaborator; this
// layer only multiplexes the shared interrupt line.
type midiPort struct {
	id       int
	name     string
	ie       uint32 // interrupt enable bit in the control register
	irq      uint32 // interrupt pending bit in status register 0
	statusIn uint32 // register reporting pending input bytes
	pending  bool
}

func (h *Device) initMIDIPorts() {
	h.midi = []*midiPort{
		{id: 0, name: "MIDI 1", ie: HDSPE_Midi0InterruptEnable,
			irq: HDSPE_statusMidi0IRQ, statusIn: HDSPE_midiStatusIn0},
		{id: 1, name: "MIDI 2", ie: HDSPE_Midi1InterruptEnable,
			irq: HDSPE_statusMidi1IRQ, statusIn: HDSPE_midiStatusIn0 + 4},
	}

	h.midiIRQPendingMask = 0
	for _, m := range h.midi {
		h.midiIRQPendingMask |= m.irq
	}
}

// addTCOMIDIPort appends the MTC input port of the TCO module. Called
// during TCO init; the TCO port is always the last one.
func (h *Device) addTCOMIDIPort() {
	m := &midiPort{
		id:       len(h.midi),
		name:     "MTC (TCO)",
		ie:       HDSPE_Midi2InterruptEnable,
		irq:      HDSPE_statusMidi2IRQ,
		statusIn: HDSPE_midiStatusIn0 + 8,
	}

	h.midi = append(h.midi, m)
	h.midiIRQPendingMask |= m.irq
}

// MIDIPorts returns the number of MIDI input ports, including the TCO
// MTC port if a TCO module is present.
func (h *Device) MIDIPorts() int {
	return len(h.midi)
}

// midiWorkFn drains every pending MIDI port on the high priority work
// context and re-enables each port's interrupt once it is drained.
func (h *Device) midiWorkFn() {
	h.mu.Lock()
	drain := h.midiDrain
	var pending []*midiPort
	for _, m := range h.midi {
		if m.pending {
			pending = append(pending, m)
		}
	}
	h.mu.Unlock()

	for _, m := range pending {
		if drain != nil {
			drain(m.id)
		}

		h.mu.Lock()
		m.pending = false
		h.control.MidiIE |= m.ie
		h.writeControlLocked()
		h.mu.Unlock()
	}
}

// FeedMTC feeds a raw MIDI time code message into the TCO decode path:
// either a 10-byte full frame message (F0 7F 7F 01 01 .. F7) or a 2-byte
// quarter frame message (F1 <piece><nibble>). Called by the MIDI drain
// collaborator for messages arriving on the TCO MTC port. Messages of
// any other shape are ignored. A no-op when no TCO module is present.
func (h *Device) FeedMTC(buf []byte) {
	if h.tco == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.tco.mtcLocked(h, buf)
}
