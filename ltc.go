package hdspe

import "fmt"

// LTC32 is a time code in the packed representation of the TCO module:
// four BCD-style nibble pairs (frames, seconds, minutes, hours from least
// to most significant byte). The sync and unused bits of the hardware
// word are always zero in this representation.
type LTC32 uint32

// HDSPE_LTC32_Mask covers the data nibbles of an LTC32 word; everything
// outside it is sync or padding.
const HDSPE_LTC32_Mask LTC32 = 0x3f7f7f3f

// ComposeLTC packs hours, minutes, seconds and a frame number.
func ComposeLTC(h, m, s, f int) LTC32 {
	return LTC32(uint32(h/10)<<28 | uint32(h%10)<<24 |
		uint32(m/10)<<20 | uint32(m%10)<<16 |
		uint32(s/10)<<12 | uint32(s%10)<<8 |
		uint32(f/10)<<4 | uint32(f%10))
}

// Split unpacks the time code into hours, minutes, seconds and frames.
func (tc LTC32) Split() (h, m, s, f int) {
	h = int(tc>>28&0x3)*10 + int(tc>>24&0xf)
	m = int(tc>>20&0x7)*10 + int(tc>>16&0xf)
	s = int(tc>>12&0x7)*10 + int(tc>>8&0xf)
	f = int(tc>>4&0x3)*10 + int(tc&0xf)

	return h, m, s, f
}

// String renders the time code as HH:MM:SS:FF.
func (tc LTC32) String() string {
	h, m, s, f := tc.Split()

	return fmt.Sprintf("%02d:%02d:%02d:%02d", h, m, s, f)
}

// Incr advances the time code by one frame.
func (tc LTC32) Incr(rate LTCFrameRate, drop bool) LTC32 {
	return tc.AddFrames(1, rate, drop)
}

// AddFrames advances (or, for negative n, rewinds) the time code by n
// frames, honoring drop-frame counting: at the start of every minute
// that is not a multiple of ten, frame numbers 00 and 01 do not exist.
// The result wraps at 24 hours.
func (tc LTC32) AddFrames(n int64, rate LTCFrameRate, drop bool) LTC32 {
	fps := int64(rate.FPS())
	if drop {
		// Drop-frame counting only exists for 30-frame material.
		fps = 30
	}

	perDay := framesPerDay(fps, drop)
	fn := (ltcToFrames(tc, fps, drop) + n) % perDay
	if fn < 0 {
		fn += perDay
	}

	return ltcFromFrames(fn, fps, drop)
}

func framesPerDay(fps int64, drop bool) int64 {
	per := 24 * 3600 * fps
	if drop {
		per -= 24 * 2 * (60 - 6) // 2 frames dropped in 54 of every 60 minutes
	}

	return per
}

// ltcToFrames converts a time code to an absolute frame number since
// midnight.
func ltcToFrames(tc LTC32, fps int64, drop bool) int64 {
	h, m, s, f := tc.Split()

	minutes := int64(h)*60 + int64(m)
	fn := (minutes*60+int64(s))*fps + int64(f)
	if drop {
		fn -= 2 * (minutes - minutes/10)
	}

	return fn
}

// ltcFromFrames is the exact inverse of ltcToFrames.
func ltcFromFrames(fn, fps int64, drop bool) LTC32 {
	if !drop {
		f := fn % fps
		s := fn / fps
		return ComposeLTC(int(s/3600), int(s/60%60), int(s%60), int(f))
	}

	// 17982 frames per 10 minutes at 29.97 drop frame: the first minute
	// keeps all 1800 frame slots, the other nine have 1798.
	const per10 = 10*60*30 - 18
	const perMin = 60*30 - 2

	ten := fn / per10
	rem := fn % per10

	var minute, x int64
	if rem < 1800 {
		minute = 0
		x = rem
	} else {
		minute = 1 + (rem-1800)/perMin
		x = (rem-1800)%perMin + 2 // frame numbers 00 and 01 are skipped
	}

	minutes := ten*10 + minute

	return ComposeLTC(int(minutes/60), int(minutes%60), int(x/30), int(x%30))
}
