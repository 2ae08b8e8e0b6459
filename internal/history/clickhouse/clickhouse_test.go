package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/xvbd/internal/history"
)

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword(""),
		tcclickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	defer func() {
		if err := ctr.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	sink, err := New(ctx, Options{Addr: host + ":" + port.Port()})
	if err != nil {
		t.Fatalf("Failed to create ClickHouse sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Send(ctx, history.Event{Type: history.EventDecision, OccurredAt: time.Now(), Mode: "Auto", Observed: 9_000}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	n, err := sink.Count(ctx, history.EventDecision)
	if err != nil {
		t.Fatalf("Failed to count events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}
