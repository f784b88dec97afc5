package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"carry-engine/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PositionSnapshot is one periodic sample of an instrument's paired position.
type PositionSnapshot struct {
	Time          time.Time
	Instrument    string
	Phase         string
	SpotVenue     string
	PerpVenue     string
	SpotQty       float64
	PerpQty       float64
	SpotEntry     float64
	PerpEntry     float64
	SpotMid       float64
	PerpMid       float64
	FundingRate   float64
	FundingAPY    float64
	NetDelta      float64
	DeviationPct  float64
	UnrealizedPnL float64
	RealizedPnL   float64
	PendingOrders int
}

// OrderRecord is a leg order that reached a terminal status.
type OrderRecord struct {
	Time          time.Time
	Instrument    string
	ClientOrderID string
	VenueOrderID  string
	Venue         string
	Symbol        string
	Role          string
	Purpose       string
	Side          string
	Quantity      float64
	Status        string
	FilledQty     float64
	FilledPrice   float64
	Failure       string
	Reason        string
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	positions chan PositionSnapshot
	orders    chan OrderRecord
	started   atomic.Bool
	dropPos   atomic.Uint64
	dropOrder atomic.Uint64
}

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
		db:        db,
		log:       log,
		schema:    schema,
		positions: make(chan PositionSnapshot, queueSize),
		orders:    make(chan OrderRecord, queueSize),
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

func (w *Writer) EnqueuePosition(snapshot PositionSnapshot) {
	if w == nil {
		return
	}
	select {
	case w.positions <- snapshot:
		return
	default:
		if w.dropPos.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale position queue full")
		}
	}
}

func (w *Writer) EnqueueOrder(record OrderRecord) {
	if w == nil {
		return
	}
	select {
	case w.orders <- record:
		return
	default:
		if w.dropOrder.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale order queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.positions:
			w.writePosition(ctx, snap)
		case record := <-w.orders:
			w.writeOrder(ctx, record)
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
		instrument TEXT NOT NULL,
		phase TEXT NOT NULL,
		spot_venue TEXT NOT NULL,
		perp_venue TEXT NOT NULL,
		spot_qty DOUBLE PRECISION NOT NULL,
		perp_qty DOUBLE PRECISION NOT NULL,
		spot_entry DOUBLE PRECISION NOT NULL,
		perp_entry DOUBLE PRECISION NOT NULL,
		spot_mid DOUBLE PRECISION NOT NULL,
		perp_mid DOUBLE PRECISION NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		funding_apy DOUBLE PRECISION NOT NULL,
		net_delta DOUBLE PRECISION NOT NULL,
		deviation_pct DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL,
		pending_orders INTEGER NOT NULL
	)`, w.table("position_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		client_order_id TEXT NOT NULL,
		venue_order_id TEXT NOT NULL,
		venue TEXT NOT NULL,
		symbol TEXT NOT NULL,
		leg_role TEXT NOT NULL,
		purpose TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		filled_qty DOUBLE PRECISION NOT NULL,
		filled_price DOUBLE PRECISION NOT NULL,
		failure TEXT NOT NULL,
		reason TEXT NOT NULL,
		PRIMARY KEY (ts, client_order_id)
	)`, w.table("leg_orders"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"position_snapshots", "leg_orders"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writePosition(ctx context.Context, snap PositionSnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, phase, spot_venue, perp_venue, spot_qty, perp_qty, spot_entry, perp_entry,
		spot_mid, perp_mid, funding_rate, funding_apy, net_delta, deviation_pct,
		unrealized_pnl, realized_pnl, pending_orders
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	)`, w.table("position_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snap.Time,
		snap.Instrument,
		snap.Phase,
		snap.SpotVenue,
		snap.PerpVenue,
		snap.SpotQty,
		snap.PerpQty,
		snap.SpotEntry,
		snap.PerpEntry,
		snap.SpotMid,
		snap.PerpMid,
		snap.FundingRate,
		snap.FundingAPY,
		snap.NetDelta,
		snap.DeviationPct,
		snap.UnrealizedPnL,
		snap.RealizedPnL,
		snap.PendingOrders,
	); err != nil && w.log != nil {
		w.log.Warn("timescale position insert failed", zap.String("instrument", snap.Instrument), zap.Error(err))
	}
}

func (w *Writer) writeOrder(ctx context.Context, rec OrderRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, client_order_id, venue_order_id, venue, symbol, leg_role, purpose,
		side, quantity, status, filled_qty, filled_price, failure, reason
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	)
	ON CONFLICT (ts, client_order_id) DO NOTHING`, w.table("leg_orders"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.Instrument,
		rec.ClientOrderID,
		rec.VenueOrderID,
		rec.Venue,
		rec.Symbol,
		rec.Role,
		rec.Purpose,
		rec.Side,
		rec.Quantity,
		rec.Status,
		rec.FilledQty,
		rec.FilledPrice,
		rec.Failure,
		rec.Reason,
	); err != nil && w.log != nil {
		w.log.Warn("timescale order insert failed", zap.String("cloid", rec.ClientOrderID), zap.Error(err))
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
