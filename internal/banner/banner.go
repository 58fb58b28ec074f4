// Package banner prints the startup banner.
package banner

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const logo = `
======================================================================
            __ _         _
  ___  ___ / _| |_ _ __ | |__   ___  _ __   ___
 / __|/ _ \ |_| __| '_ \| '_ \ / _ \| '_ \ / _ \
 \__ \ (_) |  _| |_| |_) | | | | (_) | | | |  __/
 |___/\___/|_|  \__| .__/|_| |_|\___/|_| |_|\___|
                   |_|
----------------------------------------------------------------------`

const footer = `======================================================================`

// ConfigLine represents a single configuration line to display
type ConfigLine struct {
	Label string
	Value string
}

// Print writes the banner to stdout.
func Print(serviceName string, config []ConfigLine) {
	Fprint(os.Stdout, serviceName, config)
}

// Fprint writes the banner with aligned configuration lines to w.
func Fprint(w io.Writer, serviceName string, config []ConfigLine) {
	fmt.Fprintln(w, logo)
	fmt.Fprintln(w, serviceName)

	width := 0
	for _, c := range config {
		width = max(width, len(c.Label))
	}
	for _, c := range config {
		value := c.Value
		if value == "" {
			value = "-"
		}
		fmt.Fprintf(w, "  %s%s : %s\n", c.Label, strings.Repeat(" ", width-len(c.Label)), value)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, footer)
	fmt.Fprintln(w)
}
