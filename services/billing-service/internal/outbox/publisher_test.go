package outbox

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestNewPublisherDefaults(t *testing.T) {
	p := NewPublisher(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{
		Brokers: "kafka-1:9092, kafka-2:9092",
	})

	if p.pollEvery != 2*time.Second {
		t.Fatalf("pollEvery = %v, want 2s default", p.pollEvery)
	}
	if p.batchSize != 50 {
		t.Fatalf("batchSize = %d, want 50 default", p.batchSize)
	}
	if len(p.brokers) != 2 || p.brokers[0] != "kafka-1:9092" || p.brokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", p.brokers)
	}
}

func TestPublisherRunDisabledWithoutBrokers(t *testing.T) {
	p := NewPublisher(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), PublisherConfig{})

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when no brokers are configured")
	}
}
