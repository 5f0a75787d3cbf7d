// Command smoke checks that the infrastructure a coverage server depends on is
// reachable: Redis, the MocServer endpoint and the invalidation topic.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/sky-coverage/internal/cache/redisstore"
	"github.com/mohammed-shakir/sky-coverage/internal/core/httpclient"
	"github.com/mohammed-shakir/sky-coverage/internal/invalidation"
	"github.com/mohammed-shakir/sky-coverage/internal/provider"
)

func getenv(key, def string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return def
}

func testRedis(ctx context.Context, addr string) error {
	fmt.Println("Redis test")
	rc, err := redisstore.New(ctx, addr, redisstore.WithDialTimeout(2*time.Second))
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	if err := rc.Set(ctx, "moc:smoke", []byte("0/0-11"), 30*time.Second); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	val, ok, err := rc.Get(ctx, "moc:smoke")
	if err != nil || !ok {
		return fmt.Errorf("redis get: ok=%v err=%v", ok, err)
	}
	fmt.Println("redis GET moc:smoke:", string(val))
	return rc.Del(ctx, "moc:smoke")
}

func testMocServer(ctx context.Context, baseURL, dataset string) error {
	fmt.Println("MocServer test")
	ms, err := provider.NewMocServer(nil, httpclient.NewOutbound(15*time.Second), baseURL, nil)
	if err != nil {
		return err
	}
	ms.SetDefaultOrder(5)
	fmt.Println("GET", ms.QueryURL(dataset))
	m, err := ms.Coverage(ctx, dataset)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d cells, sky fraction %.6f\n", dataset, m.Len(), m.SkyFraction())
	return nil
}

func testKafka(brokers []string, topic string) error {
	fmt.Println("Kafka test")

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V2_5_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	ev := invalidation.NewEvent(invalidation.OpUpdate, "smoke-test", "smoke", time.Now())
	msgBytes, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	partition, offset, err := prod.SendMessage(&sarama.ProducerMessage{
		Topic: topic, Key: sarama.StringEncoder(ev.Key()), Value: sarama.ByteEncoder(msgBytes),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	fmt.Printf("produced one event to partition %d offset %d\n", partition, offset)

	consumer, err := sarama.NewConsumer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("consumer create: %w", err)
	}
	defer func() { _ = consumer.Close() }()

	pc, err := consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return fmt.Errorf("consume partition: %w", err)
	}
	defer func() { _ = pc.Close() }()

	select {
	case m := <-pc.Messages():
		if _, err := invalidation.Decode(m.Value); err != nil {
			return fmt.Errorf("consumed event: %w", err)
		}
		fmt.Println("consumed:", string(m.Value))
	case <-time.After(5 * time.Second):
		fmt.Println("no message consumed (timeout)")
	}
	return nil
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	redisAddr := getenv("REDIS_ADDR", "localhost:6379")
	mocServer := getenv("MOCSERVER_URL", "https://alasky.cds.unistra.fr/MocServer/query")
	dataset := getenv("SMOKE_DATASET", "CDS/P/2MASS/H")
	brokers := strings.Split(getenv("KAFKA_BROKERS", "localhost:9092"), ",")
	topic := getenv("KAFKA_TOPIC", "coverage-invalidation")

	if err := testRedis(ctx, redisAddr); err != nil {
		fmt.Println("Redis error:", err)
		os.Exit(1)
	}
	if err := testMocServer(ctx, mocServer, dataset); err != nil {
		fmt.Println("MocServer error:", err)
		os.Exit(1)
	}
	if err := testKafka(brokers, topic); err != nil {
		fmt.Println("Kafka error:", err)
		os.Exit(1)
	}
	fmt.Println("All tests completed")
}
