package core

import (
	"strings"
	"testing"
)

func TestEventRingOrder(t *testing.T) {
	ClearEventRing()
	defer ClearEventRing()

	for i := uint32(1); i <= TraceRingSize+5; i++ {
		RecordEvent(EvtConfigure, i, StateConfigured, i)
	}

	events := TraceEvents()
	if len(events) != TraceRingSize {
		t.Fatalf("Expected %d events, got %d", TraceRingSize, len(events))
	}
	if events[0].Clock != 6 || events[len(events)-1].Clock != TraceRingSize+5 {
		t.Errorf("Expected oldest-first window 6..%d, got %d..%d",
			TraceRingSize+5, events[0].Clock, events[len(events)-1].Clock)
	}
}

func TestEventRingDisabled(t *testing.T) {
	ClearEventRing()
	SetTraceEnabled(false)
	defer SetTraceEnabled(true)

	RecordEvent(EvtShutdown, 1, StateUninitialized, 0)
	if len(TraceEvents()) != 0 {
		t.Error("Expected no events while tracing is disabled")
	}
}

func TestComparatorLifecycleTraced(t *testing.T) {
	ClearEventRing()
	defer ClearEventRing()

	c, _, _ := newTestComparator()
	_ = c.configure(PositivePin, Channel(1), false)
	_ = c.configure(PositivePin, Channel(1), false)
	c.shutdown()

	var got []uint8
	for _, evt := range TraceEvents() {
		got = append(got, evt.EventType)
	}
	want := []uint8{EvtConfigure, EvtConfigureBusy, EvtShutdown}
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, traceEventName(want[i]), traceEventName(got[i]))
		}
	}
}

func TestDumpEventRing(t *testing.T) {
	ClearEventRing()
	defer ClearEventRing()

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	RecordEvent(EvtWaitTimeout, 1500, StateUninitialized, 1000)
	DumpEventRing()
	for i := 0; i < TraceRingSize+2 && traceDump.pending; i++ {
		DebugTask()
	}

	if len(lines) != 3 {
		t.Fatalf("Expected header, one event and footer, got %v", lines)
	}
	if !strings.Contains(lines[1], "WAIT_TIMEOUT clock=1500 state=uninitialized v=1000") {
		t.Errorf("Unexpected dump line %q", lines[1])
	}
}

func TestDebugPrintlnGated(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	SetDebugEnabled(false)
	DebugPrintln("hidden")
	SetDebugEnabled(true)
	DebugPrintln("shown")
	SetDebugEnabled(false)

	if len(lines) != 1 || lines[0] != "shown" {
		t.Errorf("Expected only the enabled line, got %v", lines)
	}
}

func TestUtoa(t *testing.T) {
	cases := map[uint32]string{0: "0", 7: "7", 1000: "1000", 0xFFFFFFFF: "4294967295"}
	for in, want := range cases {
		if got := utoa(in); got != want {
			t.Errorf("utoa(%d) = %q, want %q", in, got, want)
		}
	}
	if got := itoa(-42); got != "-42" {
		t.Errorf("itoa(-42) = %q", got)
	}
}
