package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FillLedger/internal/core"
	"FillLedger/internal/cycle"
	"FillLedger/internal/ledger"
	fpmath "FillLedger/internal/math"
	"FillLedger/internal/observability"
)

// Sink writes a pass's derived outputs to Postgres. Each successful
// instrument's rows replace that instrument's prior rows inside one
// transaction, so a failed instrument keeps its stale (prior) rows and a
// crashed write changes nothing. Multi-row INSERT keeps round trips low;
// switch to pgx CopyFrom if ingest volume ever demands it.
type Sink struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewSink(db *sql.DB, log zerolog.Logger, metrics *observability.Metrics) *Sink {
	return &Sink{db: db, log: log, metrics: metrics}
}

// WritePass persists ledger events, cycles, and the daily rollup.
func (s *Sink) WritePass(ctx context.Context, res *core.PassResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range res.Instruments {
		r := &res.Instruments[i]
		if r.Err != nil {
			continue // stale rows for this instrument stay in place
		}
		if err := s.replaceInstrument(ctx, tx, res, r); err != nil {
			s.countError()
			return err
		}
	}

	if err := s.replaceDaily(ctx, tx, res); err != nil {
		s.countError()
		return err
	}

	if err := tx.Commit(); err != nil {
		s.countError()
		return fmt.Errorf("commit pass %s: %w", res.PassID, err)
	}
	return nil
}

func (s *Sink) countError() {
	if s.metrics != nil {
		s.metrics.SinkErrors.Inc()
	}
}

func (s *Sink) countRows(table string, n int) {
	if s.metrics != nil {
		s.metrics.SinkRowsWritten.WithLabelValues(table).Add(float64(n))
	}
}

func (s *Sink) replaceInstrument(ctx context.Context, tx *sql.Tx, res *core.PassResult, r *core.InstrumentResult) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ledger.events WHERE instrument = $1`, r.Instrument); err != nil {
		return fmt.Errorf("clear events for %s: %w", r.Instrument, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ledger.cycles WHERE instrument = $1`, r.Instrument); err != nil {
		return fmt.Errorf("clear cycles for %s: %w", r.Instrument, err)
	}

	if err := s.insertEvents(ctx, tx, res.PassID.String(), r.Events); err != nil {
		return err
	}
	return s.insertCycles(ctx, tx, res.PassID.String(), r.Cycles)
}

const eventCols = 14

func (s *Sink) insertEvents(ctx context.Context, tx *sql.Tx, passID string, events []ledger.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.events
		(pass_id, instrument, ts, kind, qty, price, trade_pnl, trading_fee,
		 funding_fees, funding_detail, running_qty, avg_entry, avg_exit, flip_leg)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*eventCols)

	for i := range events {
		ev := &events[i]
		base := i * eventCols
		values = append(values, placeholders(base, eventCols))

		detail, err := json.Marshal(displayAll(ev.FundingDetail))
		if err != nil {
			return fmt.Errorf("encode funding detail: %w", err)
		}

		args = append(args,
			passID, ev.Instrument, ev.Timestamp.UTC(), ev.Kind.String(),
			fpmath.Display(ev.Quantity), fpmath.Display(ev.Price),
			fpmath.Display(ev.TradePnL), fpmath.Display(ev.TradingFee),
			fpmath.Display(ev.FundingFees), detail,
			fpmath.Display(ev.RunningQty), fpmath.Display(ev.AvgEntry),
			fpmath.Display(ev.AvgExit), ev.FlipLeg,
		)
	}

	if _, err := tx.ExecContext(ctx, query+strings.Join(values, ", "), args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	s.countRows("events", len(events))
	return nil
}

const cycleCols = 15

func (s *Sink) insertCycles(ctx context.Context, tx *sql.Tx, passID string, cycles []cycle.Cycle) error {
	if len(cycles) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.cycles
		(pass_id, instrument, entry_time, exit_time, qty_opened, qty_closed, side,
		 avg_entry_price, avg_exit_price, trade_pnl, trading_fees, funding_fees,
		 funding_detail, realized_pnl, status)
		VALUES `

	values := make([]string, 0, len(cycles))
	args := make([]interface{}, 0, len(cycles)*cycleCols)

	for i := range cycles {
		c := &cycles[i]
		base := i * cycleCols
		values = append(values, placeholders(base, cycleCols))

		var exit interface{}
		if c.Status == cycle.StatusClosed {
			exit = c.ExitTime.UTC()
		}

		detail, err := json.Marshal(displayAll(c.FundingDetail))
		if err != nil {
			return fmt.Errorf("encode funding detail: %w", err)
		}

		args = append(args,
			passID, c.Instrument, c.EntryTime.UTC(), exit,
			fpmath.Display(c.QtyOpened), fpmath.Display(c.QtyClosed), c.Side.String(),
			fpmath.Display(c.AvgEntryPrice), fpmath.Display(c.AvgExitPrice),
			fpmath.Display(c.TradePnL), fpmath.Display(c.TradingFees),
			fpmath.Display(c.FundingFees), detail,
			fpmath.Display(c.RealizedPnL), c.Status.String(),
		)
	}

	if _, err := tx.ExecContext(ctx, query+strings.Join(values, ", "), args...); err != nil {
		return fmt.Errorf("insert cycles: %w", err)
	}
	s.countRows("cycles", len(cycles))
	return nil
}

const dailyCols = 5

func (s *Sink) replaceDaily(ctx context.Context, tx *sql.Tx, res *core.PassResult) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger.daily`); err != nil {
		return fmt.Errorf("clear daily: %w", err)
	}
	if len(res.Daily) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.daily (pass_id, day, realized_pnl, funding, volume) VALUES `

	values := make([]string, 0, len(res.Daily))
	args := make([]interface{}, 0, len(res.Daily)*dailyCols)

	for i := range res.Daily {
		d := &res.Daily[i]
		base := i * dailyCols
		values = append(values, placeholders(base, dailyCols))

		day, err := time.Parse("2006-01-02", d.Date)
		if err != nil {
			return fmt.Errorf("parse daily date %q: %w", d.Date, err)
		}

		args = append(args,
			res.PassID.String(), day,
			fpmath.Display(d.RealizedPnL), fpmath.Display(d.Funding), fpmath.Display(d.Volume),
		)
	}

	if _, err := tx.ExecContext(ctx, query+strings.Join(values, ", "), args...); err != nil {
		return fmt.Errorf("insert daily: %w", err)
	}
	s.countRows("daily", len(res.Daily))
	return nil
}

func placeholders(base, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", base+i+1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func displayAll(ds []decimal.Decimal) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = fpmath.Display(d)
	}
	return out
}
