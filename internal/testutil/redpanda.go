//go:build integration || component

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// TestBrokers returns the Redpanda seed brokers for integration tests,
// from INTEGRATION_REDPANDA_BROKERS or localhost:9092.
func TestBrokers() []string {
	if brokers := os.Getenv("INTEGRATION_REDPANDA_BROKERS"); brokers != "" {
		return strings.Split(brokers, ",")
	}
	return []string{"localhost:9092"}
}

// TestTopicName returns a topic unique to this test run.
func TestTopicName(t *testing.T) string {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == ' ' {
			return '-'
		}
		return r
	}, t.Name())
	return fmt.Sprintf("test-%s-%d", name, time.Now().UnixNano())
}

// NewTestConsumer returns a group-less client reading topic from the start.
// It is closed on test cleanup.
func NewTestConsumer(t *testing.T, topic string) *kgo.Client {
	t.Helper()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(TestBrokers()...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		t.Fatalf("failed to create test consumer: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

// ProduceJSON synchronously writes each value to topic under key.
func ProduceJSON(t *testing.T, topic, key string, values ...any) {
	t.Helper()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(TestBrokers()...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		t.Fatalf("failed to create test producer: %v", err)
	}
	defer client.Close()

	for _, v := range values {
		value, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal record: %v", err)
		}
		rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
		if err := client.ProduceSync(context.Background(), rec).FirstErr(); err != nil {
			t.Fatalf("failed to produce to %s: %v", topic, err)
		}
	}
}
