package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the chatflow ASCII banner with the version.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{"        _           _    __ _               ", "#38bdf8"},
		{"    ___| |__   __ _| |_ / _| | _____      __", "#22d3ee"},
		{"   / __| '_ \\ / _` | __| |_| |/ _ \\ \\ /\\ / /", "#2dd4bf"},
		{"  | (__| | | | (_| | |_|  _| | (_) \\ V  V / ", "#34d399"},
		{"   \\___|_| |_|\\__,_|\\__|_| |_|\\___/ \\_/\\_/  ", "#4ade80"},
	}

	fmt.Println()
	for _, l := range lines {
		fmt.Println(termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Println(termenv.String("   conversation flows, v" + version).Foreground(p.Color("#94a3b8")).Italic())
	fmt.Println()
}
