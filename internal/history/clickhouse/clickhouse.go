package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/xvbd/internal/history"
)

// Options selects the ClickHouse server and target table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse with the official client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(ctx context.Context, o Options) (*Sink, error) {
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = history.Table
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{Database: o.Database, Username: o.Username, Password: o.Password},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	s := &Sink{conn: conn, table: o.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	return s.conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		occurred_at DateTime64(3),
		type LowCardinality(String),
		process String,
		pid Int64,
		state String,
		pool String,
		mode String,
		observed_hs Float64,
		donation_hs Float64,
		message String
	) ENGINE = MergeTree ORDER BY occurred_at`, s.table))
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	q := fmt.Sprintf(`INSERT INTO %s (occurred_at, type, process, pid, state, pool, mode, observed_hs, donation_hs, message) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, q,
		e.OccurredAt.UTC(), string(e.Type), e.Process, int64(e.PID), e.State, e.Pool, e.Mode, e.Observed, e.Donation, e.Message,
	); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Count(ctx context.Context, t history.EventType) (uint64, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count() FROM %s WHERE type = ?`, s.table), string(t))
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
