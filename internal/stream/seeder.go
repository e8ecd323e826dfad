package stream

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pricestream/pkg/twelvedata"
)

// QuoteFetcher returns point-in-time quotes keyed by wire symbol.
type QuoteFetcher interface {
	GetQuotes(ctx context.Context, wireSymbols []string) (map[string]twelvedata.Quote, error)
}

// Seeder fills baseline fields from batched quote requests.
type Seeder struct {
	quotes     QuoteFetcher
	translator *twelvedata.Translator
	batchSize  int
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *Metrics
}

// NewSeeder paces batches to requestsPerMinute; zero disables pacing.
func NewSeeder(quotes QuoteFetcher, tr *twelvedata.Translator, batchSize, requestsPerMinute int,
	logger *zap.Logger, metrics *Metrics) *Seeder {
	if batchSize <= 0 {
		batchSize = 8
	}
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &Seeder{
		quotes:     quotes,
		translator: tr,
		batchSize:  batchSize,
		limiter:    rate.NewLimiter(limit, batchSize),
		logger:     logger.With(zap.String("component", "seeder")),
		metrics:    metrics,
	}
}

// SeedResult summarizes one seed pass.
type SeedResult struct {
	Seeded  int
	Batches int
	Failed  int
}

// Seed queries universe in batches and merges every returned quote into
// table. A failed batch is logged and skipped. Seed stops early only when ctx
// is done.
func (s *Seeder) Seed(ctx context.Context, universe []string, table *Table, now func() time.Time) SeedResult {
	var res SeedResult
	wire := s.translator.WireSymbols(universe)

	for start := 0; start < len(wire); start += s.batchSize {
		end := min(start+s.batchSize, len(wire))
		batch := wire[start:end]

		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn("seed interrupted", zap.Int("seeded", res.Seeded), zap.Error(err))
			return res
		}

		res.Batches++
		quotes, err := s.quotes.GetQuotes(ctx, batch)
		if err != nil {
			res.Failed++
			s.metrics.SeedBatches.WithLabelValues("failed").Inc()
			s.logger.Warn("seed batch failed", zap.Strings("symbols", batch), zap.Error(err))
			if ctx.Err() != nil {
				return res
			}
			continue
		}
		s.metrics.SeedBatches.WithLabelValues("ok").Inc()

		nowMs := now().UnixMilli()
		for _, w := range batch {
			q, ok := quotes[w]
			if !ok {
				continue
			}
			table.ApplySeed(s.translator.FromWire(w), q, nowMs)
			res.Seeded++
		}
	}

	s.logger.Debug("seed complete",
		zap.Int("seeded", res.Seeded),
		zap.Int("batches", res.Batches),
		zap.Int("failed", res.Failed))
	return res
}
