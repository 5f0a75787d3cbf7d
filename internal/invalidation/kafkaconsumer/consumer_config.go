package kafkaconsumer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/sky-coverage/internal/core/config"
)

// Config is the consumer-group side of the invalidation pipeline.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration

	// ReplayRetained starts a fresh group at the oldest retained offset.
	ReplayRetained bool
	// DedupeSize bounds how many event timestamps are remembered per
	// dataset; <= 0 falls back to the default.
	DedupeSize int
}

const defaultDedupeSize = 4096

func FromConfig(c config.InvalidationCfg) Config {
	size := c.DedupeSize
	if size <= 0 {
		size = defaultDedupeSize
	}
	return Config{
		Brokers:          brokerList(c.Brokers),
		Topic:            strings.TrimSpace(c.Topic),
		GroupID:          strings.TrimSpace(c.GroupID),
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		ReplayRetained:   strings.EqualFold(strings.TrimSpace(c.StartFrom), "oldest"),
		DedupeSize:       size,
	}
}

// Validate reports every missing setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("no brokers"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("empty topic"))
	}
	if c.GroupID == "" {
		errs = append(errs, errors.New("empty group id"))
	}
	if c.Heartbeat > 0 && c.SessionTimeout > 0 && c.Heartbeat*3 > c.SessionTimeout {
		errs = append(errs, fmt.Errorf("heartbeat %v too close to session timeout %v", c.Heartbeat, c.SessionTimeout))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("kafkaconsumer config: %w", err)
	}
	return nil
}

// brokerList splits "a:9092, b:9092" dropping blanks and duplicates.
func brokerList(s string) []string {
	var out []string
	seen := map[string]bool{}
	for b := range strings.SplitSeq(s, ",") {
		b = strings.TrimSpace(b)
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}
