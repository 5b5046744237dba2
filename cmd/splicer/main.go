// Command splicer implements the column-splicing contract of spec.md
// §4.B: splicer COLS CMD [ARG...] reads TSV from stdin, extracts the
// 0-based comma-separated COLS, pipes them through CMD ARG..., and
// reassembles the output with the untouched columns back in place.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/hplt-project/opuscleaner-engine/internal/column"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: splicer COLS CMD [ARG...]")
		os.Exit(2)
	}

	cols, err := parseCols(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "splicer: %v\n", err)
		os.Exit(2)
	}

	code, err := column.Run(cols, os.Args[2:], os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "splicer: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

func parseCols(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	cols := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid column index %q", p)
		}
		cols = append(cols, n)
	}
	return cols, nil
}
