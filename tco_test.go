package hdspe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/hdspe"
)

func TestTCODetect(t *testing.T) {
	t.Run("MADI", func(t *testing.T) {
		card, _, _ := newTestCard(t, hdspe.HDSPE_MADI, true)
		assert.True(t, card.HasTCO())
		assert.Equal(t, 3, card.MIDIPorts())
	})

	t.Run("RayDAT", func(t *testing.T) {
		card, _, _ := newTestCard(t, hdspe.HDSPE_RAYDAT, true)
		assert.True(t, card.HasTCO())
	})

	t.Run("Absent", func(t *testing.T) {
		card, _, _ := newTestCard(t, hdspe.HDSPE_MADI, false)
		assert.False(t, card.HasTCO())
		assert.Equal(t, 2, card.MIDIPorts())

		_, err := card.TCOStatus()
		assert.Error(t, err)
		assert.Error(t, card.StartLTCOutput(hdspe.LTCStartNow(0)))
		assert.Error(t, card.StopLTCOutput())
	})
}

// Every write to a TCO register must have the sync bit of each byte
// cleared; the bookkeeping-only bits above the write mask never reach
// the hardware.
func TestTCOWriteMask(t *testing.T) {
	card, sim, _ := newTestCard(t, hdspe.HDSPE_MADI, true)

	_, err := card.PutControl("LTC Sample Rate", int64(hdspe.HDSPE_TCO_SAMPLE_RATE_FROM_APP))
	require.NoError(t, err)
	_, err = card.PutControl("TCO Pull Up/Down", int64(hdspe.HDSPE_PULL_UP_4))
	require.NoError(t, err)

	for n := uint32(0); n < 4; n++ {
		for _, v := range sim.writesTo(hdspe.HDSPE_WR_TCO + 4*n) {
			assert.Zero(t, v&0x80808080, "write %#08x to TCO word %d", v, n)
		}
	}
}

// tcoOutputFixture builds a MADI card with a TCO at 25 fps, 1024 frame
// periods, and runs interrupts until the frame count reaches the given
// value. The pointer marches through the 16384 frame hardware ring.
func tcoOutputFixture(t *testing.T, frames uint64) (*hdspe.Device, *simCard, *simClock, *notifyLog) {
	t.Helper()

	card, sim, clock := newTestCard(t, hdspe.HDSPE_MADI, true)
	require.NoError(t, card.SetInterruptInterval(1024))

	_, err := card.PutControl("LTC Frame Rate", int64(hdspe.HDSPE_LTC_FRAME_RATE_25))
	require.NoError(t, err)

	for card.FrameCount() < frames {
		tcoNextInterrupt(t, card, sim)
	}
	require.Equal(t, frames, card.FrameCount())

	var log notifyLog
	card.SetNotifyFunc(log.fn)

	return card, sim, clock, &log
}

func tcoNextInterrupt(t *testing.T, card *hdspe.Device, sim *simCard) {
	t.Helper()

	sim.raiseAudio(uint32((card.FrameCount() + 1024) % 16384))
	require.True(t, card.Interrupt())
}

// An immediate start request is advanced by whole LTC frames to the
// earliest target the pipeline can honor, two period boundaries after
// the interrupt that programs it. At 44.1 kHz and 25 fps an LTC frame
// is 1764 samples long.
func TestLTCOutputStartNow(t *testing.T) {
	card, sim, _, log := tcoOutputFixture(t, 4096)

	tc := hdspe.ComposeLTC(1, 0, 0, 0)
	before := len(sim.writesTo(hdspe.HDSPE_WR_TCO))
	require.NoError(t, card.StartLTCOutput(hdspe.LTCStartNow(tc)))

	// Nothing is written until the next period interrupt.
	assert.Len(t, sim.writesTo(hdspe.HDSPE_WR_TCO), before)

	tcoNextInterrupt(t, card, sim) // frame count now 5120

	// Two LTC frames fit in the two-period window: the code starts at
	// frame 5120+2*1764 = 8648 and is advanced to 01:00:00:02.
	w0, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO)
	require.True(t, ok)
	assert.Equal(t, uint32(hdspe.ComposeLTC(1, 0, 0, 2)), w0)

	w1, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO + 4)
	require.True(t, ok)
	assert.NotZero(t, w1&hdspe.HDSPE_TCO1_set_TC)

	// Start offset, measured from the next period boundary (6144) and
	// biased by the 15 sample calibration for 25 fps at 44.1 kHz.
	assert.Equal(t, uint16(8648-6144-15), unpackOffset(w1))

	w2, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO + 8)
	require.True(t, ok)
	assert.NotZero(t, w2&hdspe.HDSPE_TCO2_TC_run)

	assert.True(t, log.contains("LTC Run"))

	s, err := card.TCOStatus()
	require.NoError(t, err)
	assert.True(t, s.Run)

	t.Run("ArmCleared", func(t *testing.T) {
		// The hardware latches the queued code at the following period
		// interrupt; the set flag must then be withdrawn.
		tcoNextInterrupt(t, card, sim)

		w1, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO + 4)
		require.True(t, ok)
		assert.Zero(t, w1&hdspe.HDSPE_TCO1_set_TC)
		assert.Zero(t, unpackOffset(w1))
	})
}

// Literal targets before the earliest feasible start move forward by
// whole LTC frames; targets beyond it keep their phase and land within
// one frame above the floor.
func TestLTCOutputStartAt(t *testing.T) {
	const frameLen = 1764 // 44.1 kHz, 25 fps

	run := func(t *testing.T, target uint64) (start uint64, tc hdspe.LTC32) {
		card, sim, _, _ := tcoOutputFixture(t, 4096)

		require.NoError(t, card.StartLTCOutput(
			hdspe.LTCStartAt(hdspe.ComposeLTC(1, 0, 0, 0), target)))
		tcoNextInterrupt(t, card, sim)

		cfc := card.FrameCount()
		w0, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO)
		require.True(t, ok)
		w1, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO + 4)
		require.True(t, ok)

		start = cfc + 1024 + uint64(unpackOffset(w1)) + 15
		assert.GreaterOrEqual(t, start, cfc+2048)
		assert.Less(t, uint64(unpackOffset(w1)), uint64(0x4000))

		return start, hdspe.LTC32(w0)
	}

	t.Run("Past", func(t *testing.T) {
		start, tc := run(t, 100)
		// Phase is preserved: the start moved by whole frames.
		assert.Zero(t, (start-100)%frameLen)
		n := (start - 100) / frameLen
		assert.Equal(t, hdspe.ComposeLTC(1, 0, 0, 0).AddFrames(int64(n),
			hdspe.HDSPE_LTC_FRAME_RATE_25, false), tc)
	})

	t.Run("Future", func(t *testing.T) {
		target := uint64(5120 + 100000)
		start, tc := run(t, target)
		assert.Zero(t, (target-start)%frameLen)
		n := (target - start) / frameLen
		assert.Equal(t, hdspe.ComposeLTC(1, 0, 0, 0).AddFrames(-int64(n),
			hdspe.HDSPE_LTC_FRAME_RATE_25, false), tc)
		// No further away than one LTC frame above the floor.
		assert.Less(t, start, uint64(5120+2048)+frameLen)
	})
}

func TestLTCOutputWallClock(t *testing.T) {
	card, sim, clock, _ := tcoOutputFixture(t, 4096)

	// The simulated clock sits exactly on a second boundary, so the
	// request behaves like an immediate start of the wall clock code.
	require.Equal(t, 0, clock.Now().Nanosecond())

	require.NoError(t, card.StartLTCOutput(hdspe.LTCStartWallClock(3600)))
	tcoNextInterrupt(t, card, sim)

	w0, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO)
	require.True(t, ok)

	want := clock.Now().UTC().Add(time.Hour)
	tc := hdspe.ComposeLTC(want.Hour(), want.Minute(), want.Second(), 0).
		AddFrames(2, hdspe.HDSPE_LTC_FRAME_RATE_25, false)
	assert.Equal(t, uint32(tc), w0)
}

func TestStopLTCOutput(t *testing.T) {
	card, sim, _, _ := tcoOutputFixture(t, 4096)

	require.NoError(t, card.StartLTCOutput(hdspe.LTCStartNow(hdspe.ComposeLTC(1, 0, 0, 0))))
	tcoNextInterrupt(t, card, sim)

	require.NoError(t, card.StopLTCOutput())

	w2, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO + 8)
	require.True(t, ok)
	assert.Zero(t, w2&hdspe.HDSPE_TCO2_TC_run)

	s, err := card.TCOStatus()
	require.NoError(t, err)
	assert.False(t, s.Run)
}

// A stop issued while a request is still queued cancels the request.
func TestLTCOutputPendingCancelledByStop(t *testing.T) {
	card, sim, _, _ := tcoOutputFixture(t, 4096)

	require.NoError(t, card.StartLTCOutput(hdspe.LTCStartNow(hdspe.ComposeLTC(1, 0, 0, 0))))
	require.NoError(t, card.StopLTCOutput())

	before := len(sim.writesTo(hdspe.HDSPE_WR_TCO))
	tcoNextInterrupt(t, card, sim)

	assert.Len(t, sim.writesTo(hdspe.HDSPE_WR_TCO), before,
		"stopped request must not be programmed")
}

// fullFrameMTC is a qualifying full frame MIDI time code message.
var fullFrameMTC = []byte{0xf0, 0x7f, 0x7f, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0xf7}

func TestMTCQualification(t *testing.T) {
	card, sim, clock, _ := tcoOutputFixture(t, 2048)

	// Plant an inbound code so a qualifying message has something to
	// publish: 10:20:30:05 at 25 fps, started 100 frames ago.
	sim.set(hdspe.HDSPE_RD_TCO, uint32(hdspe.ComposeLTC(10, 20, 30, 5)))
	sim.set(hdspe.HDSPE_RD_TCO+4, 100<<16|0x400)

	feed := func(buf []byte) []string {
		var log notifyLog
		card.SetNotifyFunc(log.fn)
		card.FeedMTC(buf)
		clock.Advance(40 * time.Millisecond)
		tcoNextInterrupt(t, card, sim)
		return log.all()
	}

	t.Run("FullFrame", func(t *testing.T) {
		assert.Contains(t, feed(fullFrameMTC), "LTC In")
	})

	t.Run("QuarterFramePiece0", func(t *testing.T) {
		assert.Contains(t, feed([]byte{0xf1, 0x00}), "LTC In")
	})

	t.Run("QuarterFramePiece4", func(t *testing.T) {
		assert.Contains(t, feed([]byte{0xf1, 0x45}), "LTC In")
	})

	t.Run("OtherPieces", func(t *testing.T) {
		assert.NotContains(t, feed([]byte{0xf1, 0x12}), "LTC In")
		assert.NotContains(t, feed([]byte{0xf1, 0x71}), "LTC In")
	})

	t.Run("Garbage", func(t *testing.T) {
		assert.NotContains(t, feed([]byte{0x90, 0x40, 0x7f}), "LTC In")
		assert.NotContains(t, feed([]byte{0xf0, 0x7f, 0x7f, 0x02, 0x01, 0, 0, 0, 0, 0xf7}), "LTC In")
		assert.NotContains(t, feed(nil), "LTC In")
	})
}

// The published inbound code is the register value advanced by one
// frame, and its start is the frame count minus the reported offset.
func TestInboundLTCDecode(t *testing.T) {
	card, sim, clock, log := tcoOutputFixture(t, 2048)

	sim.set(hdspe.HDSPE_RD_TCO, uint32(hdspe.ComposeLTC(10, 20, 30, 5)))
	sim.set(hdspe.HDSPE_RD_TCO+4, 100<<16|0x400) // offset 100, 25 fps

	card.FeedMTC(fullFrameMTC)
	clock.Advance(40 * time.Millisecond)
	tcoNextInterrupt(t, card, sim)

	s, err := card.TCOStatus()
	require.NoError(t, err)
	assert.Equal(t, "10:20:30:06", s.LTCIn.String())
	assert.Equal(t, card.FrameCount()-100, s.LTCInFrameCount)
	assert.Equal(t, card.FrameCount(), s.LTCTime)
	assert.Equal(t, uint16(100), s.LTCInOffset)
	assert.Equal(t, hdspe.HDSPE_LTC_FRAME_RATE_25, s.LTCInFrameRate)
	assert.True(t, log.contains("LTC In"))

	t.Run("SplitOffset", func(t *testing.T) {
		// Offsets wider than 7 bits span both register groups:
		// 5000 = 0x1388 packs as 0x2708.
		sim.set(hdspe.HDSPE_RD_TCO+4, 0x2708<<16|0x400)

		card.FeedMTC(fullFrameMTC)
		clock.Advance(40 * time.Millisecond)
		tcoNextInterrupt(t, card, sim)

		s, err := card.TCOStatus()
		require.NoError(t, err)
		assert.Equal(t, uint16(5000), s.LTCInOffset)
		assert.Equal(t, card.FrameCount()-5000, s.LTCInFrameCount)
	})
}

// The pull factor relates the observed inbound frame rate to the
// nominal one in parts per thousand: 1000 at nominal speed, 999 for
// 0.1% pulled down material.
func TestPullFactor(t *testing.T) {
	card, sim, clock, log := tcoOutputFixture(t, 2048)

	sim.set(hdspe.HDSPE_RD_TCO, uint32(hdspe.ComposeLTC(0, 0, 0, 0)))
	sim.set(hdspe.HDSPE_RD_TCO+4, 0x400) // 25 fps

	feedN := func(n int, interval time.Duration) {
		for i := 0; i < n; i++ {
			card.FeedMTC(fullFrameMTC)
			clock.Advance(interval)
		}
		tcoNextInterrupt(t, card, sim)
	}

	// Fill the estimator ring with nominal 40 ms frame intervals.
	feedN(11, 40*time.Millisecond)

	s, err := card.TCOStatus()
	require.NoError(t, err)
	assert.Equal(t, int32(1000), s.PullFactor)

	// Replace the ring with 0.1% longer intervals.
	log.reset()
	feedN(11, 40040*time.Microsecond)

	s, err = card.TCOStatus()
	require.NoError(t, err)
	assert.Equal(t, int32(999), s.PullFactor)
	assert.True(t, log.contains("LTC In Pull Factor"))
}

// Qualifying messages arriving implausibly close together must not blow
// up the estimator in the interrupt path; it reports the nominal rate
// until sane intervals come in.
func TestPullFactorShortIntervals(t *testing.T) {
	card, sim, clock, _ := tcoOutputFixture(t, 2048)

	sim.set(hdspe.HDSPE_RD_TCO, uint32(hdspe.ComposeLTC(0, 0, 0, 0)))
	sim.set(hdspe.HDSPE_RD_TCO+4, 0x400) // 25 fps

	card.FeedMTC(fullFrameMTC)
	clock.Advance(5 * time.Microsecond)
	card.FeedMTC(fullFrameMTC)

	require.NotPanics(t, func() { tcoNextInterrupt(t, card, sim) })

	s, err := card.TCOStatus()
	require.NoError(t, err)
	assert.Equal(t, int32(1000), s.PullFactor)

	// The device stays usable afterwards.
	tcoNextInterrupt(t, card, sim)
	require.NoError(t, card.Close())
}

func TestSetAppSampleRate(t *testing.T) {
	card, sim, _ := newTestCard(t, hdspe.HDSPE_MADI, true)

	_, err := card.PutControl("LTC Sample Rate", int64(hdspe.HDSPE_TCO_SAMPLE_RATE_FROM_APP))
	require.NoError(t, err)

	// System runs at 44.1 kHz: the TCO frequency select stays low.
	w2, ok := sim.lastWrite(hdspe.HDSPE_WR_TCO + 8)
	require.True(t, ok)
	assert.Zero(t, w2&hdspe.HDSPE_TCO2_set_freq)

	require.NoError(t, card.SetSampleRate(48000))

	w2, ok = sim.lastWrite(hdspe.HDSPE_WR_TCO + 8)
	require.True(t, ok)
	assert.NotZero(t, w2&hdspe.HDSPE_TCO2_set_freq)

	// Double speed rates keep the 48 kHz base frequency.
	require.NoError(t, card.SetSampleRate(96000))
	w2, _ = sim.lastWrite(hdspe.HDSPE_WR_TCO + 8)
	assert.NotZero(t, w2&hdspe.HDSPE_TCO2_set_freq)
}
