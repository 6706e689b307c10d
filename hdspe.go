// Package hdspe implements the timing core of the RME HDSPe family of
// multi-channel audio interfaces: monotonic frame counting driven by the
// hardware period interrupt, and synchronization of the optional Time Code
// (TCO) module, including LTC decode, latency-compensated LTC output
// scheduling and clock drift estimation.
//
// Register access is abstracted behind the RegisterIO interface, so the
// package works against memory-mapped PCI hardware as well as simulated
// registers.
package hdspe

// IOType identifies the HDSPe card model.
// The model determines the period size encoding, the hardware ring buffer
// wrap period and where the TCO detect bit lives.
type IOType int32

const (
	HDSPE_IO_TYPE_INVALID IOType = -1
	HDSPE_MADI            IOType = 0
	HDSPE_MADIFACE        IOType = 1
	HDSPE_AES             IOType = 2
	HDSPE_RAYDAT          IOType = 3
	HDSPE_AIO             IOType = 4
	HDSPE_AIO_PRO         IOType = 5
)

// IOTypeNames provides human-readable names for card models.
var IOTypeNames = map[IOType]string{
	HDSPE_MADI:     "MADI",
	HDSPE_MADIFACE: "MADIface",
	HDSPE_AES:      "AES",
	HDSPE_RAYDAT:   "RayDAT",
	HDSPE_AIO:      "AIO",
	HDSPE_AIO_PRO:  "AIO Pro",
}

func (t IOType) String() string {
	if name, ok := IOTypeNames[t]; ok {
		return name
	}

	return "invalid"
}

// isRaydatOrAio reports whether the model belongs to the newer hardware
// family (RayDAT / AIO / AIO Pro). These cards support 32-sample periods
// and use a fixed 16 KiB-per-channel ring buffer.
func (t IOType) isRaydatOrAio() bool {
	return t == HDSPE_RAYDAT || t == HDSPE_AIO || t == HDSPE_AIO_PRO
}

// FreqCode encodes the internal sample rate in the control register.
// These values correspond to the HDSPE_FREQ_* codes used by the hardware.
type FreqCode int32

const (
	HDSPE_FREQ_NO_LOCK  FreqCode = 0
	HDSPE_FREQ_32KHZ    FreqCode = 1
	HDSPE_FREQ_44_1KHZ  FreqCode = 2
	HDSPE_FREQ_48KHZ    FreqCode = 3
	HDSPE_FREQ_64KHZ    FreqCode = 4
	HDSPE_FREQ_88_2KHZ  FreqCode = 5
	HDSPE_FREQ_96KHZ    FreqCode = 6
	HDSPE_FREQ_128KHZ   FreqCode = 7
	HDSPE_FREQ_176_4KHZ FreqCode = 8
	HDSPE_FREQ_192KHZ   FreqCode = 9
)

// FreqCodeRates maps frequency codes to sample rates in Hz.
var FreqCodeRates = map[FreqCode]uint32{
	HDSPE_FREQ_32KHZ:    32000,
	HDSPE_FREQ_44_1KHZ:  44100,
	HDSPE_FREQ_48KHZ:    48000,
	HDSPE_FREQ_64KHZ:    64000,
	HDSPE_FREQ_88_2KHZ:  88200,
	HDSPE_FREQ_96KHZ:    96000,
	HDSPE_FREQ_128KHZ:   128000,
	HDSPE_FREQ_176_4KHZ: 176400,
	HDSPE_FREQ_192KHZ:   192000,
}

// FreqCodeFor returns the frequency code for a sample rate, or
// HDSPE_FREQ_NO_LOCK if the rate is not supported by the hardware.
func FreqCodeFor(rate uint32) FreqCode {
	for code, r := range FreqCodeRates {
		if r == rate {
			return code
		}
	}

	return HDSPE_FREQ_NO_LOCK
}

// SpeedFactor returns the multiplier (1, 2 or 4) relating single speed
// frame counts to the actual sample rate class of the frequency code.
func (f FreqCode) SpeedFactor() uint32 {
	switch {
	case f >= HDSPE_FREQ_128KHZ:
		return 4
	case f >= HDSPE_FREQ_64KHZ:
		return 2
	default:
		return 1
	}
}

// TCOSource selects the synchronization source of the TCO module.
type TCOSource int32

const (
	HDSPE_TCO_SOURCE_WCK   TCOSource = 0
	HDSPE_TCO_SOURCE_VIDEO TCOSource = 1
	HDSPE_TCO_SOURCE_LTC   TCOSource = 2

	HDSPE_TCO_SOURCE_COUNT = 3
)

// TCOSourceNames provides human-readable names for TCO sync sources.
var TCOSourceNames = []string{"WordClk", "Video", "LTC"}

// LTCFrameRate encodes the LTC frame rate as understood by the TCO
// hardware. Drop-frame is a separate flag; it is meaningful only in
// combination with HDSPE_LTC_FRAME_RATE_29_97 and HDSPE_LTC_FRAME_RATE_30.
type LTCFrameRate int32

const (
	HDSPE_LTC_FRAME_RATE_24    LTCFrameRate = 0
	HDSPE_LTC_FRAME_RATE_25    LTCFrameRate = 1
	HDSPE_LTC_FRAME_RATE_29_97 LTCFrameRate = 2
	HDSPE_LTC_FRAME_RATE_30    LTCFrameRate = 3

	HDSPE_LTC_FRAME_RATE_COUNT = 4
)

// LTCFrameRateNames provides human-readable names for LTC frame rates.
var LTCFrameRateNames = []string{"24 fps", "25 fps", "29.97 fps", "30 fps"}

// FPS returns the integer frame count per second for the rate code.
// 29.97 fps counts 30 frames per nominal second; the 1000/1001 pulldown
// is expressed by Scale.
func (r LTCFrameRate) FPS() uint32 {
	return ltcFPSTab[r&3]
}

// Scale returns the frame duration scale in parts-per-thousand: 999 for
// 29.97 fps material, 1000 otherwise.
func (r LTCFrameRate) Scale() uint32 {
	return ltcScaleTab[r&3]
}

var (
	ltcFPSTab   = [4]uint32{24, 25, 30, 30}
	ltcScaleTab = [4]uint32{1000, 1000, 999, 1000}
)

// TCOSampleRate selects the sample rate mode of the TCO module.
type TCOSampleRate int32

const (
	HDSPE_TCO_SAMPLE_RATE_44_1     TCOSampleRate = 0
	HDSPE_TCO_SAMPLE_RATE_48       TCOSampleRate = 1
	HDSPE_TCO_SAMPLE_RATE_FROM_APP TCOSampleRate = 2

	HDSPE_TCO_SAMPLE_RATE_COUNT = 3
)

// TCOSampleRateNames provides human-readable names for TCO sample rate modes.
var TCOSampleRateNames = []string{"44.1 kHz", "48 kHz", "From App"}

// TCOPull selects the pull up/down mode of the TCO module.
type TCOPull int32

const (
	HDSPE_PULL_NONE     TCOPull = 0
	HDSPE_PULL_UP_0_1   TCOPull = 1
	HDSPE_PULL_DOWN_0_1 TCOPull = 2
	HDSPE_PULL_UP_4     TCOPull = 3
	HDSPE_PULL_DOWN_4   TCOPull = 4

	HDSPE_PULL_COUNT = 5
)

// TCOPullNames provides human-readable names for pull modes.
var TCOPullNames = []string{"None", "Up 0.1%", "Down 0.1%", "Up 4%", "Down 4%"}

// WCKConversion selects the word clock conversion ratio.
type WCKConversion int32

const (
	HDSPE_WCK_CONVERSION_1_1     WCKConversion = 0
	HDSPE_WCK_CONVERSION_44_1_48 WCKConversion = 1
	HDSPE_WCK_CONVERSION_48_44_1 WCKConversion = 2

	HDSPE_WCK_CONVERSION_COUNT = 3
)

// WCKConversionNames provides human-readable names for conversion ratios.
var WCKConversionNames = []string{"1:1", "44.1 -> 48", "48 -> 44.1"}

// TCOSpeed encodes a word clock speed range (single, double, quad).
type TCOSpeed int32

const (
	HDSPE_SPEED_SINGLE TCOSpeed = 0
	HDSPE_SPEED_DOUBLE TCOSpeed = 1
	HDSPE_SPEED_QUAD   TCOSpeed = 2

	HDSPE_SPEED_COUNT = 3
)

// TCOSpeedNames provides human-readable names for speed ranges.
var TCOSpeedNames = []string{"Single", "Double", "Quad"}

// VideoFormat reports the detected video input format.
type VideoFormat int32

const (
	HDSPE_VIDEO_FORMAT_NONE VideoFormat = 0
	HDSPE_VIDEO_FORMAT_NTSC VideoFormat = 1
	HDSPE_VIDEO_FORMAT_PAL  VideoFormat = 2

	HDSPE_VIDEO_FORMAT_COUNT = 3
)

// VideoFormatNames provides human-readable names for video input formats.
var VideoFormatNames = []string{"No video", "NTSC", "PAL"}

// Direction identifies a PCM stream direction for period notifications.
type Direction int32

const (
	Playback Direction = 0
	Capture  Direction = 1
)

func (d Direction) String() string {
	if d == Capture {
		return "capture"
	}

	return "playback"
}
