package hdspe_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gen2brain/hdspe"
)

// simWrite records one register write for later inspection.
type simWrite struct {
	reg   uint32
	value uint32
}

// simCard emulates the register interface of a card, optionally with a
// TCO module plugged in. Reads return whatever was last planted with
// set; writes are recorded and also stored, so the control register can
// be read back.
type simCard struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	writes []simWrite
}

func newSimCard() *simCard {
	return &simCard{regs: make(map[uint32]uint32)}
}

func (s *simCard) Read(reg uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.regs[reg]
}

func (s *simCard) Write(reg uint32, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs[reg] = value
	s.writes = append(s.writes, simWrite{reg: reg, value: value})
}

// set plants a register value without recording a write.
func (s *simCard) set(reg uint32, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs[reg] = value
}

// lastWrite returns the most recent value written to reg.
func (s *simCard) lastWrite(reg uint32) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.writes) - 1; i >= 0; i-- {
		if s.writes[i].reg == reg {
			return s.writes[i].value, true
		}
	}

	return 0, false
}

// writesTo returns all values written to reg, oldest first.
func (s *simCard) writesTo(reg uint32) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []uint32
	for _, w := range s.writes {
		if w.reg == reg {
			out = append(out, w.value)
		}
	}

	return out
}

// raiseAudio plants an audio interrupt with the hardware pointer at the
// given frame position. The pointer register counts in units of 16
// frames.
func (s *simCard) raiseAudio(ptrFrames uint32) {
	s.set(hdspe.HDSPE_statusRegister0,
		hdspe.HDSPE_statusAudioIRQ|(ptrFrames>>4)<<hdspe.HDSPE_statusBufPtrShift)
}

// simClock is a settable wall clock for wall clock LTC output and MTC
// arrival timestamps.
type simClock struct {
	mu sync.Mutex
	t  time.Time
}

func newSimClock() *simClock {
	return &simClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.t
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(d)
}

// notifyLog collects control change notifications.
type notifyLog struct {
	mu    sync.Mutex
	names []string
}

func (n *notifyLog) fn(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.names = append(n.names, name)
}

func (n *notifyLog) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.names...)
}

func (n *notifyLog) contains(name string) bool {
	for _, s := range n.all() {
		if s == name {
			return true
		}
	}

	return false
}

func (n *notifyLog) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.names = nil
}

// newTestCard builds a device on a simulated card. withTCO plants the
// TCO detect bit appropriate for the card model before initialization.
func newTestCard(t *testing.T, ioType hdspe.IOType, withTCO bool, opts ...hdspe.Option) (*hdspe.Device, *simCard, *simClock) {
	t.Helper()

	sim := newSimCard()
	clock := newSimClock()

	if withTCO {
		switch ioType {
		case hdspe.HDSPE_MADI, hdspe.HDSPE_AES:
			sim.set(hdspe.HDSPE_statusRegister0, hdspe.HDSPE_statusTCODetect)
		default:
			sim.set(hdspe.HDSPE_statusRegister2, hdspe.HDSPE_status2TCODetect)
		}
	}

	opts = append([]hdspe.Option{hdspe.WithClock(clock.Now)}, opts...)

	card, err := hdspe.New(sim, ioType, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { card.Close() })

	if withTCO {
		sim.set(hdspe.HDSPE_statusRegister0, 0)
	}

	return card, sim, clock
}

// unpackOffset recombines the split 14-bit start offset from a TCO
// control word 1 image.
func unpackOffset(tco1 uint32) uint16 {
	return uint16(tco1>>16&0x7f | tco1>>17&0x3f80)
}
