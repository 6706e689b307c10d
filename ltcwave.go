package hdspe

import (
	"fmt"

	"github.com/go-audio/audio"
)

// ltcSyncWord is the fixed pattern in bits 64..79 of every LTC frame,
// transmitted LSB first.
var ltcSyncWord = [16]byte{0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 1}

// LTCWave renders time codes as a biphase mark coded audio signal, the
// same signal the TCO module emits on its LTC output. Useful to
// generate reference material for testing against hardware decoders.
type LTCWave struct {
	SampleRate uint32
	Rate       LTCFrameRate
	Drop       bool
	Amplitude  int

	level bool
}

// bits renders the 80 bit frame for the code, LSB first per SMPTE 12M:
// BCD time code fields, the drop frame flag, the biphase mark polarity
// correction bit and the sync word.
func (w *LTCWave) bits(tc LTC32) [80]byte {
	var b [80]byte

	set := func(pos int, value int, width int) {
		for i := 0; i < width; i++ {
			b[pos+i] = byte(value >> i & 1)
		}
	}

	hh, mm, ss, ff := tc.Split()

	set(0, ff%10, 4)
	set(8, ff/10, 2)
	if w.Drop {
		b[10] = 1
	}
	set(16, ss%10, 4)
	set(24, ss/10, 3)
	set(32, mm%10, 4)
	set(40, mm/10, 3)
	set(48, hh%10, 4)
	set(56, hh/10, 2)
	copy(b[64:], ltcSyncWord[:])

	// Polarity correction: the total count of zero bits must be even.
	// Bit 59 carries the correction except at 25 fps, where bit 27 does.
	zeros := 0
	for _, bit := range b {
		if bit == 0 {
			zeros++
		}
	}
	if zeros%2 != 0 {
		if w.Rate == HDSPE_LTC_FRAME_RATE_25 {
			b[27] = 1
		} else {
			b[59] = 1
		}
	}

	return b
}

// WriteFrame appends the audio samples of one LTC frame to buf. The
// buffer format must match the wave's sample rate; an empty buffer is
// initialized to it. Signal level continuity is kept across calls, as
// biphase mark requires.
func (w *LTCWave) WriteFrame(tc LTC32, buf *audio.IntBuffer) error {
	if w.SampleRate == 0 {
		return fmt.Errorf("hdspe: LTC wave sample rate not set")
	}
	if buf == nil {
		return fmt.Errorf("hdspe: nil buffer")
	}
	if buf.Format == nil {
		buf.Format = &audio.Format{NumChannels: 1, SampleRate: int(w.SampleRate)}
		buf.SourceBitDepth = 16
	}
	if buf.Format.SampleRate != int(w.SampleRate) || buf.Format.NumChannels != 1 {
		return fmt.Errorf("hdspe: buffer format %v does not match LTC wave", buf.Format)
	}

	amp := w.Amplitude
	if amp == 0 {
		amp = 16384
	}

	// Frame duration in samples, honoring the 1000/1001 pulldown of
	// 29.97 fps material.
	fs := int(w.SampleRate) * 1000 / int(w.Rate.FPS()*w.Rate.Scale())

	bits := w.bits(tc)

	sample := func() int {
		if w.level {
			return amp
		}
		return -amp
	}

	// Biphase mark: a transition at every bit boundary, plus one at the
	// middle of every one bit.
	for i, bit := range bits {
		start := i * fs / 80
		end := (i + 1) * fs / 80
		mid := (start + end) / 2

		w.level = !w.level
		for s := start; s < mid; s++ {
			buf.Data = append(buf.Data, sample())
		}
		if bit != 0 {
			w.level = !w.level
		}
		for s := mid; s < end; s++ {
			buf.Data = append(buf.Data, sample())
		}
	}

	return nil
}
