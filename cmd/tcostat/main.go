package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"

	"github.com/gen2brain/hdspe"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	keyStyle   = lipgloss.NewStyle().Width(22).Foreground(lipgloss.Color("8"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2)
)

func main() {
	var (
		pci    string
		ioType int
		raw    bool
	)

	flag.StringVar(&pci, "pci", "", "The PCI address of the card (e.g. 0000:04:00.0)")
	flag.IntVar(&ioType, "iotype", int(hdspe.HDSPE_MADI), "The card model (0=MADI, 1=MADIface, 2=AIO, 3=RayDAT, 4=AES, 5=AIO Pro)")
	flag.BoolVar(&raw, "raw", false, "Print the plain text report instead of the styled one")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s --pci <address> [options]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nShows the time code status of an HDSPe card with a TCO module.")
		fmt.Fprintln(os.Stderr, "The card must be unbound from the kernel driver.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"pci", "iotype", "raw"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
	}

	flag.Parse()

	if pci == "" {
		flag.Usage()
		os.Exit(1)
	}

	mmio, err := hdspe.OpenMMIO(pci)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer mmio.Close()

	card, err := hdspe.New(mmio, hdspe.IOType(ioType))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer card.Close()

	if raw {
		fmt.Print(card.Report())
		return
	}

	var b []string

	b = append(b, titleStyle.Render(fmt.Sprintf("%s  #%08d", card.IOType(), card.Serial())))
	b = append(b, "")

	if !card.HasTCO() {
		b = append(b, badStyle.Render("No TCO module detected"))
		fmt.Println(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, b...)))
		return
	}

	s, err := card.TCOStatus()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	row := func(key, value string) {
		b = append(b, keyStyle.Render(key)+value)
	}
	yesno := func(key string, v bool) {
		if v {
			row(key, okStyle.Render("yes"))
		} else {
			row(key, badStyle.Render("no"))
		}
	}

	row("TCO Firmware", fmt.Sprintf("%d", s.FwVersion))
	row("LTC In", s.LTCIn.String())
	row("LTC In Frame Count", fmt.Sprintf("%d", s.LTCInFrameCount))
	row("LTC In Frame Rate", hdspe.LTCFrameRateNames[s.LTCInFrameRate])
	yesno("LTC In Valid", s.LTCValid)
	yesno("LTC In Drop Frame", s.LTCInDrop)
	row("Pull Factor", fmt.Sprintf("%d", s.PullFactor))
	yesno("Lock", s.Lock)
	yesno("WordClk Valid", s.WCKValid)
	row("WordClk Speed", hdspe.TCOSpeedNames[s.WCKSpeed])
	row("Video Input", hdspe.VideoFormatNames[s.Video])
	b = append(b, "")
	row("Sync Source", hdspe.TCOSourceNames[s.Source])
	row("LTC Frame Rate", hdspe.LTCFrameRateNames[s.FrameRate])
	yesno("LTC Drop Frame", s.Drop)
	row("Sample Rate", hdspe.TCOSampleRateNames[s.SampleRate])
	row("Pull Up / Down", hdspe.TCOPullNames[s.Pull])
	row("WordClk Conversion", hdspe.WCKConversionNames[s.WCKConversion])
	yesno("75 Ohm Term", s.Term)
	yesno("LTC Run", s.Run)

	fmt.Println(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, b...)))
}
