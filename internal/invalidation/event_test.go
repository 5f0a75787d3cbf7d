package invalidation

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	for _, op := range []string{OpUpdate, OpDelete} {
		ev := NewEvent(" "+strings.ToUpper(op), " 2mass ", "skycover", mustTS())
		if err := ev.Validate(); err != nil {
			t.Fatalf("%s: unexpected: %v", op, err)
		}
		if ev.Dataset != "2mass" {
			t.Fatalf("dataset not trimmed: %q", ev.Dataset)
		}
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := NewEvent(OpUpdate, "2mass", "", mustTS())
	cases := map[string]func(*Event){
		"version":    func(e *Event) { e.Version = 2 },
		"op":         func(e *Event) { e.Op = "insert" },
		"dataset":    func(e *Event) { e.Dataset = "  " },
		"missing ts": func(e *Event) { e.TS = time.Time{} },
	}
	for name, mutate := range cases {
		ev := base
		mutate(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEvent_WireFormat(t *testing.T) {
	b, err := json.Marshal(NewEvent(OpDelete, "sdss", "", mustTS()))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"version":1,"op":"delete","dataset":"sdss","ts":"2025-10-26T12:30:45Z"}`
	if string(b) != want {
		t.Fatalf("wire = %s\nwant %s", b, want)
	}
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"version":1,"op":"update","dataset":"2mass","ts":"2025-10-26T12:30:45Z","source":"hips"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Key() != "2mass" || !ev.TS.Equal(mustTS()) || ev.Source != "hips" {
		t.Fatalf("decoded %+v", ev)
	}

	for name, raw := range map[string]string{
		"syntax":  `{"version":1,`,
		"empty":   ``,
		"version": `{"version":3,"op":"update","dataset":"x","ts":"2025-10-26T12:30:45Z"}`,
	} {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%s: err = %v, want ErrInvalidEvent", name, err)
		}
	}
}

func TestValidate_ListsEveryProblem(t *testing.T) {
	err := Event{Version: 2, Op: "upsert"}.Validate()
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v", err)
	}
	for _, want := range []string{"version 2", `"upsert"`, "dataset", "ts"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("%q missing %q", err, want)
		}
	}
}
