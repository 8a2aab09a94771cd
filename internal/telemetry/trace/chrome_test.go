package trace

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriterEmitsValidJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Emit(Event{Name: "load", Cat: "orchestrator", Ph: PhaseBegin, TS: 1, TID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := w.Emit(Event{Name: "load", Cat: "orchestrator", Ph: PhaseEnd, TS: 2, TID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("trace file is not valid JSON array: %v\n%s", err, data)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Ph != PhaseBegin || events[1].Ph != PhaseEnd {
		t.Errorf("unexpected phases: %+v", events)
	}
}

func TestSpanRecordsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("boom")
	gotErr := w.Span("infer", "orchestrator", 1, func() error { return wantErr })
	if gotErr != wantErr {
		t.Errorf("Span returned %v, want %v", gotErr, wantErr)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.Ph == PhaseEnd && ev.Args["error"] == "boom" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an End event with args.error=boom, got %+v", events)
	}
}
