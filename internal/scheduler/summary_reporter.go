package scheduler

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/metrics"
	"github.com/zilstream/pancake-indexer/internal/modules/pancake"
	"github.com/zilstream/pancake-indexer/internal/numeric"
)

// RecordCounter reports how many records each collection holds.
type RecordCounter interface {
	Counts(ctx context.Context) (map[entity.Collection]int64, error)
}

// SummaryReporter periodically publishes the EventsSummary counters and
// per-collection record counts as gauges and logs them.
type SummaryReporter struct {
	store     entity.Store
	counter   RecordCounter
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

// NewSummaryReporter builds a reporter. counter may be nil.
func NewSummaryReporter(store entity.Store, counter RecordCounter, logger zerolog.Logger) (*SummaryReporter, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &SummaryReporter{
		store:     store,
		counter:   counter,
		scheduler: s,
		logger:    logger.With().Str("component", "summary-reporter").Logger(),
	}, nil
}

func (r *SummaryReporter) Start(ctx context.Context, interval time.Duration) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.run, ctx),
		gocron.WithName("report-events-summary"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule summary report: %w", err)
	}

	r.scheduler.Start()
	r.logger.Info().Dur("interval", interval).Msg("Summary reporter started")
	return nil
}

func (r *SummaryReporter) Stop() {
	r.logger.Info().Msg("Stopping summary reporter")
	if err := r.scheduler.Shutdown(); err != nil {
		r.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

func (r *SummaryReporter) run(ctx context.Context) {
	if err := r.Report(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Summary report failed")
	}
}

// Report reads the summary once and updates the gauges.
func (r *SummaryReporter) Report(ctx context.Context) error {
	summary, err := entity.GetEventsSummary(ctx, r.store, pancake.EventsSummaryID)
	if err != nil {
		return err
	}

	event := r.logger.Info()
	if summary == nil {
		r.logger.Debug().Msg("No events processed yet")
	} else {
		for _, c := range pancake.Counters {
			field, err := c.Field(summary)
			if err != nil {
				return err
			}
			value, _ := new(big.Float).SetInt(numeric.Parse(*field)).Float64()
			metrics.SetSummary(string(c), value)
			event = event.Str(string(c), *field)
		}
	}

	if r.counter != nil {
		counts, err := r.counter.Counts(ctx)
		if err != nil {
			return err
		}
		for collection, n := range counts {
			metrics.SetEntityRecords(string(collection), n)
		}
		event = event.Int64("pairs", counts[entity.CollectionPair]).
			Int64("tokens", counts[entity.CollectionToken])
	}

	event.Uint64("last_block", metrics.GetLastBlock()).Msg("Events summary")
	return nil
}
