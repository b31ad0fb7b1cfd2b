package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"

	"skirmish.io/internal/persistence/ticklog"
)

var errStop = errors.New("stop")

type summary struct {
	files     int
	entries   uint64
	first     uint64
	last      uint64
	gaps      uint64
	resets    uint64
	discarded uint64
	maxUnits  int
	maxStepMS float64
	lastHash  string
	payloads  map[string]uint64
}

func main() {
	var (
		dir      = flag.String("dir", "./data/ticks", "directory containing ticks-*.jsonl.zst")
		file     = flag.String("file", "", "single tick log file (overrides -dir)")
		fromTick = flag.Uint64("from_tick", 0, "first tick to include (inclusive, optional)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to include (inclusive, optional)")
		verbose  = flag.Bool("v", false, "print one line per tick")
	)
	flag.Parse()

	files := []string{*file}
	if *file == "" {
		var err error
		files, err = ticklog.Files(*dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list tick logs:", err)
			os.Exit(1)
		}
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "no tick logs found in", *dir)
			os.Exit(1)
		}
	}

	sum := summary{payloads: map[string]uint64{}}
	for _, path := range files {
		sum.files++
		err := ticklog.Scan(path, func(e ticklog.Entry) error {
			if e.Tick < *fromTick {
				return nil
			}
			if *toTick != 0 && e.Tick > *toTick {
				return errStop
			}
			sum.add(e)
			if *verbose {
				fmt.Printf("tick=%d units=%d cmds=%d resets=%d step_ms=%.3f digest=%s\n",
					e.Tick, e.Units, len(e.Commands), e.Resets, e.StepMS, e.Digest)
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	sum.print()
}

func (s *summary) add(e ticklog.Entry) {
	if s.entries == 0 {
		s.first = e.Tick
	} else if e.Tick > s.last+1 {
		// A gap is a restart or a missing file.
		s.gaps++
	}
	s.entries++
	s.last = e.Tick
	s.resets += uint64(e.Resets)
	s.discarded += uint64(e.Discarded)
	if e.Units > s.maxUnits {
		s.maxUnits = e.Units
	}
	if e.StepMS > s.maxStepMS {
		s.maxStepMS = e.StepMS
	}
	s.lastHash = e.Digest
	for _, c := range e.Commands {
		name := c.Payload
		if name == "" {
			name = c.Kind
		}
		s.payloads[name]++
	}
}

func (s *summary) print() {
	if s.entries == 0 {
		fmt.Println("no ticks in range")
		return
	}
	fmt.Printf("files=%d ticks=%d range=[%d,%d] gaps=%d resets=%d discarded=%d max_units=%d max_step_ms=%.3f\n",
		s.files, s.entries, s.first, s.last, s.gaps, s.resets, s.discarded, s.maxUnits, s.maxStepMS)
	names := make([]string, 0, len(s.payloads))
	for n := range s.payloads {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("  %-8s %d\n", n, s.payloads[n])
	}
	fmt.Printf("last digest=%s\n", s.lastHash)
}
