package hdspe

import "time"

// Interrupt services one interrupt of the shared line. Audio and MIDI
// share a single line; one status read drives the triage for both. It
// returns false when neither source raised the line so a shared handler
// can pass the interrupt on.
//
// For an audio interrupt the strict ordering is: acknowledge, frame
// count update, TCO period hook, consumer notifications, deferred
// status work. Pending MIDI input has its port interrupt disabled here
// and drained on the high priority work context, which re-enables the
// port when the FIFO is empty.
func (h *Device) Interrupt() bool {
	h.mu.Lock()

	h.rawStatus0 = h.io.Read(HDSPE_statusRegister0)
	h.status0 = decodeStatus0(h.rawStatus0)

	audio := h.status0.AudioIRQ
	midi := h.rawStatus0 & h.midiIRQPendingMask

	if !audio && midi == 0 {
		h.mu.Unlock()
		return false
	}

	if audio {
		h.io.Write(HDSPE_interruptConfirmation, 0)
		h.irqCount++

		h.updateFrameCountLocked()

		if h.tco != nil {
			h.tco.periodElapsedLocked(h)
		}

		for _, fn := range h.consumers {
			if fn != nil {
				fn()
			}
		}

		h.scheduleStatusWorkLocked()
	}

	if midi != 0 {
		disabled := false
		for _, m := range h.midi {
			if h.rawStatus0&m.irq == 0 {
				continue
			}
			// A raised IRQ bit with an empty FIFO is spurious; the low
			// byte of the port status register counts pending input.
			if h.io.Read(m.statusIn)&0xff == 0 {
				continue
			}
			// Quiet the port until its FIFO is drained.
			h.control.MidiIE &^= m.ie
			m.pending = true
			disabled = true
		}
		if disabled {
			h.writeControlLocked()
			h.midiWork.schedule(h.midiWorkFn)
		}
	}

	h.mu.Unlock()

	return true
}

// scheduleStatusWorkLocked rate-limits status change scans to the
// configured polling frequency.
func (h *Device) scheduleStatusWorkLocked() {
	if h.statusPolling <= 0 {
		return
	}

	now := h.now()
	if now.Sub(h.lastStatusCheck) < time.Second/time.Duration(h.statusPolling) {
		return
	}
	h.lastStatusCheck = now

	h.statusWork.schedule(h.statusWorkFn)
}

// statusWorkFn scans the hardware status for changes against the last
// scan and notifies the changed controls. Runs on the low priority work
// context.
func (h *Device) statusWorkFn() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.tco != nil {
		h.tco.notifyStatusChangeLocked(h)
	}
}
