package hdspe_test

import (
	"testing"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/hdspe"
)

func TestLTCWave(t *testing.T) {
	w := hdspe.LTCWave{
		SampleRate: 48000,
		Rate:       hdspe.HDSPE_LTC_FRAME_RATE_25,
	}

	buf := &audio.IntBuffer{}
	require.NoError(t, w.WriteFrame(hdspe.ComposeLTC(1, 0, 0, 0), buf))

	// One LTC frame at 25 fps and 48 kHz is 1920 samples.
	require.Len(t, buf.Data, 1920)
	require.NotNil(t, buf.Format)
	assert.Equal(t, 48000, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)

	for i, s := range buf.Data {
		require.True(t, s == 16384 || s == -16384, "sample %d is %d", i, s)
	}

	t.Run("Transitions", func(t *testing.T) {
		// Biphase mark has one transition per bit boundary plus one per
		// one bit; the polarity correction keeps the zero bit count
		// even, so every frame has an even number of transitions and
		// the signal starts each frame with the same level.
		transitions := 0
		for i := 1; i < len(buf.Data); i++ {
			if buf.Data[i] != buf.Data[i-1] {
				transitions++
			}
		}
		// The final bit boundary transition belongs to the next frame.
		assert.Equal(t, 1, transitions%2)

		second := &audio.IntBuffer{}
		require.NoError(t, w.WriteFrame(hdspe.ComposeLTC(1, 0, 0, 1), second))
		assert.Equal(t, buf.Data[0], second.Data[0])
	})

	t.Run("Pulldown", func(t *testing.T) {
		ntsc := hdspe.LTCWave{SampleRate: 48000, Rate: hdspe.HDSPE_LTC_FRAME_RATE_29_97}
		b := &audio.IntBuffer{}
		require.NoError(t, ntsc.WriteFrame(hdspe.ComposeLTC(0, 0, 0, 0), b))
		// 48000 * 1000 / (30 * 999) samples.
		assert.Len(t, b.Data, 1601)
	})

	t.Run("Errors", func(t *testing.T) {
		var bad hdspe.LTCWave
		assert.Error(t, bad.WriteFrame(0, &audio.IntBuffer{}))
		assert.Error(t, w.WriteFrame(0, nil))

		mismatched := &audio.IntBuffer{Format: &audio.Format{NumChannels: 2, SampleRate: 48000}}
		assert.Error(t, w.WriteFrame(0, mismatched))
	})
}

func TestOpenMMIO(t *testing.T) {
	_, err := hdspe.OpenMMIO("0000:ff:1f.7")
	assert.Error(t, err)
}
