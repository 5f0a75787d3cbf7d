// Package invalidation defines the events that tell coverage caches a
// dataset changed upstream.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	OpUpdate = "update"
	OpDelete = "delete"

	eventVersion = 1
)

var ErrInvalidEvent = errors.New("invalid invalidation event")

// Event is the wire message on the invalidation topic. Messages are keyed by
// dataset so every change to one dataset lands on one partition in order.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Dataset string    `json:"dataset"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func NewEvent(op, dataset, source string, now time.Time) Event {
	return Event{
		Version: eventVersion,
		Op:      strings.ToLower(strings.TrimSpace(op)),
		Dataset: strings.TrimSpace(dataset),
		TS:      now.UTC(),
		Source:  source,
	}
}

func (e Event) Key() string { return e.Dataset }

func (e Event) Validate() error {
	var problems []string
	if e.Version != eventVersion {
		problems = append(problems, fmt.Sprintf("unsupported version %d", e.Version))
	}
	if e.Op != OpUpdate && e.Op != OpDelete {
		problems = append(problems, fmt.Sprintf("op %q is not update or delete", e.Op))
	}
	if strings.TrimSpace(e.Dataset) == "" {
		problems = append(problems, "dataset is required")
	}
	if e.TS.IsZero() {
		problems = append(problems, "ts is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(problems, "; "))
	}
	return nil
}

// Decode parses and validates one message value.
func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return ev, ev.Validate()
}
