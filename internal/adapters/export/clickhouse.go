// Package export sends extracted index samples to analytical stores.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/ch-go"
	"github.com/ClickHouse/ch-go/proto"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

var _ output.IndexExporter = (*ClickHouse)(nil)

// ClickHouseConfig configures the ClickHouse exporter.
type ClickHouseConfig struct {
	Address     string
	Database    string
	Table       string
	User        string
	Password    string
	BatchSize   int
	CreateTable bool
}

// chConn is the part of *ch.Client the exporter uses.
type chConn interface {
	Do(ctx context.Context, q ch.Query) error
	Close() error
}

// ClickHouse writes samples with native columnar inserts.
type ClickHouse struct {
	conn   chConn
	table  string
	batch  int
	logger *slog.Logger
}

// NewClickHouse connects to ClickHouse and optionally creates the table.
func NewClickHouse(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouse, error) {
	conn, err := ch.Dial(ctx, ch.Options{
		Address:     cfg.Address,
		Database:    cfg.Database,
		User:        cfg.User,
		Password:    cfg.Password,
		Compression: ch.CompressionLZ4,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: clickhouse %s: %v", domain.ErrConnection, cfg.Address, err)
	}
	return newClickHouse(ctx, conn, cfg, logger)
}

func newClickHouse(ctx context.Context, conn chConn, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouse, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	e := &ClickHouse{
		conn:   conn,
		table:  fmt.Sprintf("%s.%s", cfg.Database, cfg.Table),
		batch:  cfg.BatchSize,
		logger: logger,
	}
	if cfg.CreateTable {
		if err := conn.Do(ctx, ch.Query{Body: e.ddl()}); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("creating table %s: %w", e.table, err)
		}
	}
	return e, nil
}

func (e *ClickHouse) ddl() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	time DateTime,
	index_name LowCardinality(String),
	value Float32,
	source_file String
) ENGINE = ReplacingMergeTree
ORDER BY (index_name, time)`, e.table)
}

// sampleBatch holds column data for native insert.
type sampleBatch struct {
	Time   *proto.ColDateTime
	Index  *proto.ColStr
	Value  *proto.ColFloat32
	Source *proto.ColStr
}

func newSampleBatch() *sampleBatch {
	return &sampleBatch{
		Time:   new(proto.ColDateTime),
		Index:  new(proto.ColStr),
		Value:  new(proto.ColFloat32),
		Source: new(proto.ColStr),
	}
}

func (b *sampleBatch) Reset() {
	b.Time.Reset()
	b.Index.Reset()
	b.Value.Reset()
	b.Source.Reset()
}

func (b *sampleBatch) Len() int {
	return b.Time.Rows()
}

func (b *sampleBatch) Append(s domain.IndexSample) {
	b.Time.Append(s.Time.UTC())
	b.Index.Append(s.Index)
	b.Value.Append(s.Value)
	b.Source.Append(s.Source)
}

func (b *sampleBatch) Input() proto.Input {
	return proto.Input{
		{Name: "time", Data: b.Time},
		{Name: "index_name", Data: b.Index},
		{Name: "value", Data: b.Value},
		{Name: "source_file", Data: b.Source},
	}
}

// Export implements IndexExporter. The table deduplicates reinserted samples.
func (e *ClickHouse) Export(ctx context.Context, samples []domain.IndexSample) error {
	batch := newSampleBatch()
	start := time.Now()
	for i, s := range samples {
		batch.Append(s)
		if batch.Len() >= e.batch || i == len(samples)-1 {
			if err := e.flush(ctx, batch); err != nil {
				return err
			}
			batch.Reset()
		}
	}
	e.logger.Debug("exported samples", "table", e.table, "count", len(samples), "duration", time.Since(start))
	return nil
}

func (e *ClickHouse) flush(ctx context.Context, batch *sampleBatch) error {
	if batch.Len() == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (time, index_name, value, source_file) VALUES", e.table)
	if err := e.conn.Do(ctx, ch.Query{Body: query, Input: batch.Input()}); err != nil {
		return fmt.Errorf("inserting %d samples into %s: %w", batch.Len(), e.table, err)
	}
	return nil
}

// Close closes the connection.
func (e *ClickHouse) Close() error {
	return e.conn.Close()
}
