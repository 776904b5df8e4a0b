package ui

import (
	"testing"
	"time"
)

func TestActivityLogDropsOldestBeyondCount(t *testing.T) {
	l := newActivityLog(2, 0, 0)
	l.Add(ActivityEvent{Timestamp: time.Unix(1, 0), Kind: ActivitySystem, Message: "a"})
	l.Add(ActivityEvent{Timestamp: time.Unix(2, 0), Kind: ActivitySystem, Message: "b"})
	l.Add(ActivityEvent{Timestamp: time.Unix(3, 0), Kind: ActivityExport, Message: "c"})

	events, total := l.CopyInto(nil)
	if len(events) != 2 || total != 3 {
		t.Fatalf("expected 2 events of 3, got %d of %d", len(events), total)
	}
	if events[0].Message != "b" || events[1].Message != "c" {
		t.Fatalf("unexpected order: %+v", events)
	}
	if drops := l.Drops(); drops.Evicted != 1 {
		t.Fatalf("expected one eviction, got %+v", drops)
	}
}

func TestActivityLogRefusesLongLine(t *testing.T) {
	l := newActivityLog(2, 0, 3)
	if l.Add(ActivityEvent{Message: "abcd"}) {
		t.Fatalf("expected the long line to be refused")
	}
	if drops := l.Drops(); drops.Oversized != 1 {
		t.Fatalf("expected oversized count 1, got %d", drops.Oversized)
	}
	if events, total := l.CopyInto(nil); len(events) != 0 || total != 0 {
		t.Fatalf("expected nothing retained, got %d (%d)", len(events), total)
	}
}

func TestActivityLogByteBudget(t *testing.T) {
	l := newActivityLog(10, 5, 0)
	l.Add(ActivityEvent{Message: "abc"})
	l.Add(ActivityEvent{Message: "de"})
	l.Add(ActivityEvent{Message: "fg"})

	events, _ := l.CopyInto(make([]ActivityEvent, 0, 4))
	if len(events) != 2 || events[0].Message != "de" || events[1].Message != "fg" {
		t.Fatalf("unexpected events after byte eviction: %+v", events)
	}
	if drops := l.Drops(); drops.Evicted != 1 {
		t.Fatalf("expected one eviction, got %+v", drops)
	}
}

func TestActivityKindLabel(t *testing.T) {
	if ActivityExport.Label() != "EXPORT" || ActivitySystem.Label() != "SYS" || ActivityKind(9).Label() != "UNK" {
		t.Fatalf("unexpected labels")
	}
}
