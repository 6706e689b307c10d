package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gen2brain/hdspe"
)

func main() {
	var (
		start     string
		rateStr   string
		drop      bool
		sr        int
		seconds   int
		amplitude int
	)

	flag.StringVar(&start, "start", "01:00:00:00", "The start time code (HH:MM:SS:FF)")
	flag.StringVar(&rateStr, "fps", "25", "The LTC frame rate (24, 25, 29.97, 30)")
	flag.BoolVar(&drop, "drop", false, "Use drop-frame counting (29.97 and 30 fps only)")
	flag.IntVar(&sr, "rate", 48000, "The audio sample rate (44100 or 48000)")
	flag.IntVar(&seconds, "seconds", 60, "The duration of the generated signal in seconds")
	flag.IntVar(&amplitude, "amplitude", 16384, "The peak sample value of the signal")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nGenerates a linear time code audio signal.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"start", "fps", "drop", "rate", "seconds", "amplitude"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	rate, err := parseRate(rateStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tc, err := parseTimecode(start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if sr != 44100 && sr != 48000 {
		fmt.Fprintln(os.Stderr, "Error: sample rate must be 44100 or 48000")
		os.Exit(1)
	}

	out, err := os.Create(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating WAV file: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	enc := wav.NewEncoder(out, sr, 16, 1, 1)

	wave := hdspe.LTCWave{
		SampleRate: uint32(sr),
		Rate:       rate,
		Drop:       drop,
		Amplitude:  amplitude,
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sr},
		SourceBitDepth: 16,
	}

	frames := seconds * int(rate.FPS())
	for i := 0; i < frames; i++ {
		buf.Data = buf.Data[:0]

		if err := wave.WriteFrame(tc, buf); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := enc.Write(buf); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing WAV data: %v\n", err)
			os.Exit(1)
		}

		tc = tc.Incr(rate, drop)
	}

	if err := enc.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error finalizing WAV file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d LTC frames (%s .. %s) to %s\n",
		frames, start, tc, flag.Arg(0))
}

func parseRate(s string) (hdspe.LTCFrameRate, error) {
	switch s {
	case "24":
		return hdspe.HDSPE_LTC_FRAME_RATE_24, nil
	case "25":
		return hdspe.HDSPE_LTC_FRAME_RATE_25, nil
	case "29.97":
		return hdspe.HDSPE_LTC_FRAME_RATE_29_97, nil
	case "30":
		return hdspe.HDSPE_LTC_FRAME_RATE_30, nil
	}

	return 0, fmt.Errorf("unknown frame rate %q", s)
}

func parseTimecode(s string) (hdspe.LTC32, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '.' || r == ';' })
	if len(parts) != 4 {
		return 0, fmt.Errorf("invalid time code %q, want HH:MM:SS:FF", s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time code %q, want HH:MM:SS:FF", s)
		}
		v[i] = n
	}
	if v[0] > 23 || v[1] > 59 || v[2] > 59 || v[3] > 29 {
		return 0, fmt.Errorf("time code %q out of range", s)
	}

	return hdspe.ComposeLTC(v[0], v[1], v[2], v[3]), nil
}
