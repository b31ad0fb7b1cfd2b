package main

import (
	"testing"

	"skirmish.io/internal/persistence/ticklog"
)

func TestSummary_CountsAndGaps(t *testing.T) {
	s := summary{payloads: map[string]uint64{}}
	s.add(ticklog.Entry{Tick: 1, Units: 2, Commands: []ticklog.CommandEntry{{Kind: "MUTATE", Payload: "SPAWN"}, {Kind: "MUTATE", Payload: "SPAWN"}}})
	s.add(ticklog.Entry{Tick: 2, Resets: 1, Discarded: 1, Commands: []ticklog.CommandEntry{{Kind: "RESET"}, {Kind: "MUTATE", Payload: "MOVE"}}, StepMS: 4.5})
	s.add(ticklog.Entry{Tick: 7, Units: 1, Digest: "abc"})

	if s.entries != 3 || s.first != 1 || s.last != 7 {
		t.Fatalf("range: %+v", s)
	}
	if s.gaps != 1 || s.resets != 1 || s.discarded != 1 {
		t.Fatalf("gaps=%d resets=%d discarded=%d", s.gaps, s.resets, s.discarded)
	}
	if s.payloads["SPAWN"] != 2 || s.payloads["RESET"] != 1 || s.payloads["MOVE"] != 1 {
		t.Fatalf("payloads=%v", s.payloads)
	}
	if s.maxUnits != 2 || s.maxStepMS != 4.5 || s.lastHash != "abc" {
		t.Fatalf("max units=%d step=%v hash=%s", s.maxUnits, s.maxStepMS, s.lastHash)
	}
}
