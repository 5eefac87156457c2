// Package scheduler drives the periodic ingestion, hydration, conversion
// and delivery passes over all tracked books and subscriptions.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JordanSekky/cereal/datastore"
	"github.com/JordanSekky/cereal/delivery"
	"github.com/JordanSekky/cereal/ingestion"
	"github.com/JordanSekky/cereal/models"
	"github.com/JordanSekky/cereal/sources"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config sizes the orchestrator's loops and pools. Ingestion and delivery
// run on independent intervals with independently sized pools.
type Config struct {
	DiscoveryInterval  time.Duration
	HydrationInterval  time.Duration
	ConversionInterval time.Duration
	DeliveryInterval   time.Duration

	IngestionWorkers int
	DeliveryWorkers  int

	// UnitTimeout bounds one unit of work, cancelling its in-flight
	// external call when exceeded.
	UnitTimeout time.Duration

	// BackoffBase and BackoffMax shape the retry delay for books whose
	// source keeps failing transiently.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// BookLister enumerates tracked books for the ingestion pass.
type BookLister interface {
	GetBooks(ctx context.Context) ([]models.Book, error)
}

// SubscriptionLister enumerates subscriptions for the delivery pass.
type SubscriptionLister interface {
	GetSubscriptions(ctx context.Context) ([]models.Subscription, error)
}

// Ingester runs one book's ingestion.
type Ingester interface {
	Ingest(ctx context.Context, book *models.Book) (*ingestion.Result, error)
}

// Hydrator fills chapter bodies.
type Hydrator interface {
	Pending(ctx context.Context) ([]models.Chapter, error)
	Hydrate(ctx context.Context, chapter *models.Chapter) error
}

// Converter fills chapter artifacts.
type Converter interface {
	Pending(ctx context.Context) ([]models.Chapter, error)
	Convert(ctx context.Context, chapter *models.Chapter) error
}

// Evaluator runs one subscription's delivery evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, subscriptionID uuid.UUID) (*delivery.Result, error)
}

// Orchestrator owns the four periodic passes.
type Orchestrator struct {
	cfg           Config
	books         BookLister
	subscriptions SubscriptionLister
	ingester      Ingester
	hydrator      Hydrator
	converter     Converter
	evaluator     Evaluator
	fetchBackoff  *backoffTracker
	logger        zerolog.Logger
}

// New creates an orchestrator.
func New(
	cfg Config,
	books BookLister,
	subscriptions SubscriptionLister,
	ingester Ingester,
	hydrator Hydrator,
	converter Converter,
	evaluator Evaluator,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		books:         books,
		subscriptions: subscriptions,
		ingester:      ingester,
		hydrator:      hydrator,
		converter:     converter,
		evaluator:     evaluator,
		fetchBackoff:  newBackoffTracker(cfg.BackoffBase, cfg.BackoffMax),
		logger:        logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run starts all loops and blocks until ctx is cancelled. Each loop fires
// immediately on start and then on its interval.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		pass     func(ctx context.Context)
	}{
		{"discovery", o.cfg.DiscoveryInterval, o.runIngestionPass},
		{"hydration", o.cfg.HydrationInterval, o.runHydrationPass},
		{"conversion", o.cfg.ConversionInterval, o.runConversionPass},
		{"delivery", o.cfg.DeliveryInterval, o.runDeliveryPass},
	}

	for _, loop := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, pass func(ctx context.Context)) {
			defer wg.Done()
			o.logger.Info().Str("loop", name).Dur("interval", interval).Msg("starting loop")
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				pass(ctx)
				select {
				case <-ticker.C:
				case <-ctx.Done():
					o.logger.Info().Str("loop", name).Msg("stopping loop")
					return
				}
			}
		}(loop.name, loop.interval, loop.pass)
	}
	wg.Wait()
}

func (o *Orchestrator) runIngestionPass(ctx context.Context) {
	books, err := o.books.GetBooks(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to enumerate books for ingestion pass")
		return
	}

	due := books[:0:0]
	for _, book := range books {
		if o.fetchBackoff.Ready(book.ID.String()) {
			due = append(due, book)
		}
	}

	outcomes := runPool(ctx, due, o.cfg.IngestionWorkers, o.cfg.UnitTimeout,
		func(b models.Book) string { return b.ID.String() },
		func(ctx context.Context, b models.Book) error {
			_, err := o.ingester.Ingest(ctx, &b)
			return err
		})

	for _, outcome := range outcomes {
		if outcome.Err == nil {
			o.fetchBackoff.Success(outcome.ID)
			continue
		}
		if sources.IsTransient(outcome.Err) || errors.Is(outcome.Err, context.DeadlineExceeded) {
			o.fetchBackoff.Failure(outcome.ID)
			o.logger.Warn().Err(outcome.Err).Str("book_id", outcome.ID).Msg("transient ingestion failure, backing off")
			continue
		}
		o.logger.Error().Err(outcome.Err).Str("book_id", outcome.ID).Msg("ingestion failed")
	}
}

func (o *Orchestrator) runHydrationPass(ctx context.Context) {
	chapters, err := o.hydrator.Pending(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to enumerate chapters for hydration pass")
		return
	}

	outcomes := runPool(ctx, chapters, o.cfg.IngestionWorkers, o.cfg.UnitTimeout,
		func(c models.Chapter) string { return c.ID.String() },
		func(ctx context.Context, c models.Chapter) error {
			return o.hydrator.Hydrate(ctx, &c)
		})
	o.logOutcomes(outcomes, "chapter_id", "hydration failed")
}

func (o *Orchestrator) runConversionPass(ctx context.Context) {
	chapters, err := o.converter.Pending(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to enumerate chapters for conversion pass")
		return
	}

	outcomes := runPool(ctx, chapters, o.cfg.IngestionWorkers, o.cfg.UnitTimeout,
		func(c models.Chapter) string { return c.ID.String() },
		func(ctx context.Context, c models.Chapter) error {
			return o.converter.Convert(ctx, &c)
		})
	o.logOutcomes(outcomes, "chapter_id", "conversion failed")
}

func (o *Orchestrator) runDeliveryPass(ctx context.Context) {
	subscriptions, err := o.subscriptions.GetSubscriptions(ctx)
	if err != nil {
		o.logger.Error().Err(err).Msg("failed to enumerate subscriptions for delivery pass")
		return
	}

	outcomes := runPool(ctx, subscriptions, o.cfg.DeliveryWorkers, o.cfg.UnitTimeout,
		func(s models.Subscription) string { return s.ID.String() },
		func(ctx context.Context, s models.Subscription) error {
			_, err := o.evaluator.Evaluate(ctx, s.ID)
			return err
		})

	for _, outcome := range outcomes {
		switch {
		case outcome.Err == nil:
		case errors.Is(outcome.Err, datastore.ErrEvaluationInProgress):
			// Another evaluator holds the lock; this pass simply skips it.
			o.logger.Debug().Str("subscription_id", outcome.ID).Msg("evaluation already in progress")
		case errors.Is(outcome.Err, delivery.ErrCursorIntegrity):
			o.logger.Error().Err(outcome.Err).Str("subscription_id", outcome.ID).
				Msg("cursor integrity violation, operator intervention required")
		case delivery.IsPermanent(outcome.Err):
			o.logger.Error().Err(outcome.Err).Str("subscription_id", outcome.ID).
				Msg("permanent delivery failure, operator intervention required")
		default:
			o.logger.Warn().Err(outcome.Err).Str("subscription_id", outcome.ID).
				Msg("delivery evaluation failed, retrying next pass")
		}
	}
}

func (o *Orchestrator) logOutcomes(outcomes []UnitOutcome, idField, msg string) {
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			o.logger.Warn().Err(outcome.Err).Str(idField, outcome.ID).Msg(msg)
		}
	}
}
