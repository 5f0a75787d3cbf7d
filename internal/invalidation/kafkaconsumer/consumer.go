// Package kafkaconsumer evicts cached coverage sets when invalidation events
// arrive on a Kafka topic.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/sky-coverage/internal/core/observability"
	"github.com/mohammed-shakir/sky-coverage/internal/invalidation"
	mylog "github.com/mohammed-shakir/sky-coverage/internal/logger"
)

// Evicter drops every cached variant of a dataset.
type Evicter interface {
	Evict(ctx context.Context, dataset string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Evicter
	dedupe *tsDedupe

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg Config, logger *slog.Logger, c Evicter) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		cache:  c,
		dedupe: newTSDedupe(cfg.DedupeSize),
		assign: map[int32]struct{}{},
	}
}

// Start joins the consumer group in the background and returns once the
// group client exists. Stop ends consumption.
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache dependency")
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.ReplayRetained {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	c.Run(ctx, group)
	return nil
}

// Run consumes from an existing group until ctx ends or Stop is called.
func (c *Consumer) Run(ctx context.Context, group sarama.ConsumerGroup) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	h := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke, process: c.ProcessOne}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	c.logger.Info("kafka invalidation consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("kafka invalidation consumer stopped")
}

func (c *Consumer) onAssign(sess sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			c.assign[p] = struct{}{}
		}
	}
	c.assigned.Store(true)
}

func (c *Consumer) onRevoke(sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assigned.Store(false)
	c.assign = map[int32]struct{}{}
}

// Readiness reports whether the consumer holds a group assignment.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

// ProcessOne applies a single invalidation message. Undecodable or invalid
// events are logged and skipped: retrying them can never succeed and would
// block the partition.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	ev, err := invalidation.Decode(msg.Value)
	if err != nil {
		kind := "invalid"
		var se *json.SyntaxError
		if errors.As(err, &se) || len(msg.Value) == 0 {
			kind = "decode"
		}
		obs.IncKafkaConsumerError(kind)
		c.logger.ErrorContext(ctx, "kafka error", "kind", kind,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	ctx = mylog.WithDataset(ctx, ev.Dataset)
	if c.dedupe.seen(ev.Dataset, ev.TS) {
		c.logger.DebugContext(ctx, "stale invalidation skipped", "op", ev.Op, "ts", ev.TS)
		return nil
	}

	if err := c.cache.Evict(ctx, ev.Dataset); err != nil {
		obs.IncKafkaConsumerError("evict")
		obs.IncInvalidation(ev.Op, err)
		c.logger.ErrorContext(ctx, "kafka error", "kind", "evict",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return fmt.Errorf("evict %q: %w", ev.Dataset, err)
	}
	c.dedupe.record(ev.Dataset, ev.TS)

	obs.IncInvalidation(ev.Op, nil)
	c.logger.InfoContext(ctx, "coverage invalidated",
		"op", ev.Op, "source", ev.Source, "took", time.Since(start))
	return nil
}
