package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublisher_SendsKeyedEvents(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	prod.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		k, _ := m.Key.Encode()
		if string(k) != "2mass" {
			return fmt.Errorf("key = %q", k)
		}
		if m.Topic != "coverage-invalidation" {
			return fmt.Errorf("topic = %q", m.Topic)
		}
		v, _ := m.Value.Encode()
		var ev Event
		if err := json.Unmarshal(v, &ev); err != nil {
			return err
		}
		return ev.Validate()
	})
	prod.ExpectInputAndSucceed()

	p := NewPublisherWithProducer(prod, "coverage-invalidation", 4, nil)
	if err := p.Publish(NewEvent(OpUpdate, "2mass", "test", mustTS())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Publish(NewEvent(OpDelete, "sdss", "test", mustTS())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_RejectsInvalidEvents(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	p := NewPublisherWithProducer(prod, "t", 4, nil)
	if err := p.Publish(Event{Version: 1, Op: "update"}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_CloseReportsDeliveryErrors(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, nil)
	boom := errors.New("broker unavailable")
	prod.ExpectInputAndFail(boom)

	p := NewPublisherWithProducer(prod, "t", 4, nil)
	if err := p.Publish(NewEvent(OpUpdate, "2mass", "", mustTS())); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	err := p.Close()
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("Close err = %v, want %v", err, boom)
	}
}
