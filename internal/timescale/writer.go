// Package timescale mirrors the strategy journal into TimescaleDB for
// dashboards and offline analysis. Writes are best-effort: the local sqlite
// journal is the authoritative record, so a full queue drops rather than
// blocking the strategy loop.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"xchain-basis-bot/internal/config"
	"xchain-basis-bot/internal/state"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	records chan state.Record
	started atomic.Bool
	dropped atomic.Uint64
}

// New returns nil when the mirror is disabled; a nil *Writer is safe to use.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		records: make(chan state.Record, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Enqueue queues a journal record for mirroring, dropping when the queue is
// full.
func (w *Writer) Enqueue(rec state.Record) {
	if w == nil {
		return
	}
	select {
	case w.records <- rec:
		return
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale record queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.records:
			w.writeRecord(ctx, rec)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		tags TEXT NOT NULL DEFAULT '',
		perp_account_value NUMERIC NOT NULL,
		perp_position_size NUMERIC NOT NULL,
		spot_quote_balance NUMERIC NOT NULL,
		spot_base_balance NUMERIC NOT NULL,
		bridge_transit_balance NUMERIC NOT NULL,
		mark_price NUMERIC NOT NULL,
		funding_rate NUMERIC NOT NULL,
		current_leverage NUMERIC
	)`, w.table("strategy_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("strategy_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("timescale strategy_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeRecord(ctx context.Context, rec state.Record) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, tags, perp_account_value, perp_position_size, spot_quote_balance,
		spot_base_balance, bridge_transit_balance, mark_price, funding_rate, current_leverage
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("strategy_snapshots"))
	leverage := sql.NullString{String: rec.CurrentLeverage, Valid: rec.CurrentLeverage != ""}
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		strings.Join(rec.Tags, ","),
		rec.PerpAccountValue,
		rec.PerpPositionSize,
		rec.SpotQuoteBalance,
		rec.SpotBaseBalance,
		rec.TransitBalance,
		rec.MarkPrice,
		rec.FundingRate,
		leverage,
	); err != nil && w.log != nil {
		w.log.Warn("timescale record insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
