package events

import (
	"fmt"
	"testing"
)

type testEvent struct {
	Owner  string `json:"owner"`
	Amount int64  `json:"amount"`
}

func (testEvent) EventType() string { return "test.event" }

func TestRecorderKeepsRecent(t *testing.T) {
	rec := NewRecorder(3)
	for i := 0; i < 5; i++ {
		rec.Emit(testEvent{Owner: fmt.Sprintf("owner-%d", i), Amount: int64(i)})
	}

	all := rec.Recent(0)
	if len(all) != 3 {
		t.Fatalf("buffer length = %d, want capacity 3", len(all))
	}
	if all[0].Attributes["owner"] != "owner-2" || all[2].Attributes["owner"] != "owner-4" {
		t.Fatalf("unexpected window: %+v", all)
	}
	if all[0].Type != "test.event" {
		t.Fatalf("type = %q", all[0].Type)
	}

	limited := rec.Recent(1)
	if len(limited) != 1 || limited[0].Attributes["owner"] != "owner-4" {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestRecorderFlattensNumbers(t *testing.T) {
	rec := NewRecorder(0)
	rec.Emit(testEvent{Owner: "a", Amount: 42})
	got := rec.Recent(0)
	if len(got) != 1 {
		t.Fatalf("events = %d", len(got))
	}
	if got[0].Attributes["amount"] != "42" {
		t.Fatalf("amount attribute = %q", got[0].Attributes["amount"])
	}
}
