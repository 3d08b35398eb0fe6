package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"FillLedger/internal/cycle"
	"FillLedger/internal/event"
	"FillLedger/internal/funding"
	"FillLedger/internal/ledger"
	"FillLedger/internal/observability"
	"FillLedger/internal/projection"
)

// Inputs is one instrument's slice of the batch: its full fill and funding
// history, already normalized.
type Inputs struct {
	Instrument string
	Fills      []event.Fill
	Payments   []event.FundingPayment
}

// InstrumentResult is everything one reconstruction produced. Err is set
// when the instrument failed; its other fields are then empty and any prior
// output for it should be considered stale.
type InstrumentResult struct {
	Instrument string
	Events     []ledger.Event
	Cycles     []cycle.Cycle
	Funding    funding.Result
	Err        error
}

// Summary is the per-pass report: what was processed, what was defaulted or
// skipped upstream, and what funding is still pending.
type Summary struct {
	Instruments    int
	Failed         []string
	Events         int
	CyclesOpen     int
	CyclesClosed   int
	PendingFunding map[string]decimal.Decimal
}

// PassResult is the complete output of one stateless recompute pass.
type PassResult struct {
	PassID     uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time

	Instruments []InstrumentResult // sorted by instrument name

	// Merged presentation views across all successful instruments.
	Ledger []ledger.Event
	Cycles []cycle.Cycle
	Daily  []projection.DailyStat

	Summary Summary
}

// Engine rebuilds every derived output from the full input history on each
// run. It holds no state between passes: identical inputs produce identical
// outputs, and nothing is ever patched in place.
type Engine struct {
	workers      int
	sourceOffset time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

// NewEngine creates a recompute engine. workers bounds per-instrument
// parallelism; sourceOffset is the fixed venue-local offset used for daily
// bucketing. metrics may be nil.
func NewEngine(workers int, sourceOffset time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		workers:      workers,
		sourceOffset: sourceOffset,
		log:          log,
		metrics:      metrics,
	}
}

// Run executes one full pass over the batch. Instruments are processed
// concurrently; they share no mutable state, so the only join point is the
// merge at the end. A failure in one instrument is recorded on its result
// and never disturbs the others.
func (e *Engine) Run(ctx context.Context, batch []Inputs) *PassResult {
	res := &PassResult{
		PassID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("pass:%d", time.Now().UnixNano()))),
		StartedAt: time.Now(),
	}
	if e.metrics != nil {
		e.metrics.PassesRun.Inc()
	}

	jobs := make(chan Inputs)
	results := make(chan InstrumentResult, len(batch))

	var wg sync.WaitGroup
	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for in := range jobs {
				results <- e.processInstrument(in)
			}
		}()
	}

	for _, in := range batch {
		select {
		case jobs <- in:
		case <-ctx.Done():
			// Drain point: a cancelled pass still reports what finished.
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for r := range results {
		res.Instruments = append(res.Instruments, r)
	}
	sort.Slice(res.Instruments, func(i, j int) bool {
		return res.Instruments[i].Instrument < res.Instruments[j].Instrument
	})

	e.merge(res, batch)

	res.FinishedAt = time.Now()
	if e.metrics != nil {
		e.metrics.PassDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
		e.metrics.LastPassTimestamp.Set(float64(res.FinishedAt.Unix()))
	}
	e.logSummary(res)
	return res
}

// processInstrument runs the full pipeline for one instrument: replay the
// ledger, attribute funding, aggregate cycles. A panic anywhere in the
// pipeline is converted into a per-instrument error.
func (e *Engine) processInstrument(in Inputs) (out InstrumentResult) {
	out.Instrument = in.Instrument

	defer func() {
		if r := recover(); r != nil {
			out = InstrumentResult{
				Instrument: in.Instrument,
				Err:        fmt.Errorf("reconstruction panic: %v", r),
			}
		}
	}()

	events := ledger.Replay(in.Instrument, in.Fills)

	if err := checkConservation(in.Instrument, in.Fills, events); err != nil {
		out.Err = err
		return out
	}

	out.Funding = funding.Attribute(events, in.Payments)

	cycles, err := cycle.Aggregate(events)
	if err != nil {
		out.Err = err
		return out
	}

	out.Events = events
	out.Cycles = cycles
	return out
}

// checkConservation verifies that the final running quantity equals the
// exact signed sum of every fill: no quantity lost, none double-counted.
func checkConservation(instrument string, fills []event.Fill, events []ledger.Event) error {
	sum := decimal.Zero
	for i := range fills {
		sum = sum.Add(fills[i].Quantity)
	}

	final := decimal.Zero
	if len(events) > 0 {
		final = events[len(events)-1].RunningQty
	}

	if !sum.Equal(final) {
		return &ledger.InvariantViolation{
			Instrument: instrument,
			Detail:     fmt.Sprintf("running qty %s != fill sum %s", final, sum),
		}
	}
	return nil
}

func (e *Engine) merge(res *PassResult, batch []Inputs) {
	res.Summary.PendingFunding = make(map[string]decimal.Decimal)

	paymentsByInstrument := make(map[string][]event.FundingPayment, len(batch))
	for _, in := range batch {
		paymentsByInstrument[in.Instrument] = in.Payments
	}

	var eventSets [][]ledger.Event
	var cycleSets [][]cycle.Cycle
	var allPayments []event.FundingPayment

	for i := range res.Instruments {
		r := &res.Instruments[i]
		res.Summary.Instruments++

		if r.Err != nil {
			res.Summary.Failed = append(res.Summary.Failed, r.Instrument)
			if e.metrics != nil {
				e.metrics.InstrumentsFailed.WithLabelValues(r.Instrument).Inc()
			}
			e.log.Error().Str("instrument", r.Instrument).Err(r.Err).
				Msg("instrument reconstruction failed, prior output is stale")
			continue
		}

		res.Summary.Events += len(r.Events)
		for j := range r.Cycles {
			if r.Cycles[j].Status == cycle.StatusOpen {
				res.Summary.CyclesOpen++
			} else {
				res.Summary.CyclesClosed++
			}
		}
		if !r.Funding.Pending.IsZero() {
			res.Summary.PendingFunding[r.Instrument] = r.Funding.Pending
		}

		eventSets = append(eventSets, r.Events)
		cycleSets = append(cycleSets, r.Cycles)
		allPayments = append(allPayments, paymentsByInstrument[r.Instrument]...)

		if e.metrics != nil {
			e.metrics.LedgerEvents.WithLabelValues(r.Instrument).Set(float64(len(r.Events)))
			openCount, closedCount := 0, 0
			for j := range r.Cycles {
				if r.Cycles[j].Status == cycle.StatusOpen {
					openCount++
				} else {
					closedCount++
				}
			}
			e.metrics.CyclesOpen.WithLabelValues(r.Instrument).Set(float64(openCount))
			e.metrics.CyclesClosed.WithLabelValues(r.Instrument).Set(float64(closedCount))
			pf, _ := r.Funding.Pending.Float64()
			e.metrics.PendingFunding.WithLabelValues(r.Instrument).Set(pf)
		}
	}

	res.Ledger = projection.MergeLedger(eventSets)
	res.Cycles = projection.MergeCycles(cycleSets)

	var mergedEvents []ledger.Event
	for _, evs := range eventSets {
		mergedEvents = append(mergedEvents, evs...)
	}
	res.Daily = projection.BuildDaily(mergedEvents, allPayments, e.sourceOffset)
}

func (e *Engine) logSummary(res *PassResult) {
	ev := e.log.Info().
		Str("pass_id", res.PassID.String()).
		Int("instruments", res.Summary.Instruments).
		Int("events", res.Summary.Events).
		Int("cycles_open", res.Summary.CyclesOpen).
		Int("cycles_closed", res.Summary.CyclesClosed).
		Dur("duration", res.FinishedAt.Sub(res.StartedAt))

	if len(res.Summary.Failed) > 0 {
		ev = ev.Strs("failed", res.Summary.Failed)
	}
	for instrument, pending := range res.Summary.PendingFunding {
		e.log.Warn().Str("instrument", instrument).Str("pending", pending.String()).
			Msg("funding left unassigned, carried as pending")
	}
	ev.Msg("pass complete")
}
