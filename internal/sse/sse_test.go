package sse

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseMultilineData(t *testing.T) {
	input := "event: iteration\n" +
		"id: 3\n" +
		"data: first line\n" +
		"data: second line\n\n"

	var events []Event
	if err := Parse(strings.NewReader(input), func(event Event) error {
		events = append(events, event)
		return nil
	}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Data != "first line\nsecond line" {
		t.Fatalf("unexpected data: %q", events[0].Data)
	}
	if events[0].ID != "3" || events[0].Event != "iteration" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestParseSkipsKeepalives(t *testing.T) {
	input := ": keepalive\n\n" +
		"event: status\ndata: {\"message\":\"hi\"}\n\n" +
		": keepalive\n\n" +
		"event: complete\ndata: {}\n\n"

	var names []string
	if err := Parse(strings.NewReader(input), func(event Event) error {
		names = append(names, event.Event)
		return nil
	}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if strings.Join(names, ",") != "status,complete" {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestParseDropsUnterminatedFrame(t *testing.T) {
	input := "event: iteration\ndata: 1\n\n" +
		"event: done\ndata: {}"

	var names []string
	if err := Parse(strings.NewReader(input), func(event Event) error {
		names = append(names, event.Event)
		return nil
	}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if strings.Join(names, ",") != "iteration" {
		t.Fatalf("unexpected events: %v", names)
	}
}

func TestParseStopsOnHandlerError(t *testing.T) {
	stop := errors.New("stop")
	input := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"

	calls := 0
	err := Parse(strings.NewReader(input), func(event Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Event{ID: "7", Event: "iteration", Data: "{\"iteration\":1}"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := WriteComment(&buf, "keepalive"); err != nil {
		t.Fatalf("WriteComment failed: %v", err)
	}

	want := "id: 7\nevent: iteration\ndata: {\"iteration\":1}\n\n: keepalive\n\n"
	if buf.String() != want {
		t.Fatalf("unexpected frame:\n%q\nwant\n%q", buf.String(), want)
	}
}
