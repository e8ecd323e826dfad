package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"go.uber.org/zap"
)

// Publisher pushes a serialized HubMessage to the notification hub.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// SnapshotStore is the durable key-value sink. Get returns nil, nil when the
// key does not exist.
type SnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// ErrWouldShrink is returned by checkShrink when a write would drop too many
// stored entries.
var ErrWouldShrink = errors.New("stream: write would shrink durable snapshot")

// HubMessage is the hub push body.
type HubMessage struct {
	Type      string              `json:"type"`
	Data      map[string]PriceRow `json:"data"`
	UpdatedAt int64               `json:"updatedAt"`
	Source    string              `json:"source"`
}

// Snapshot is the durable record. Entries are kept as generic maps so fields
// written by other producers survive a merge.
type Snapshot struct {
	Prices      map[string]map[string]any `json:"prices"`
	UpdatedAt   int64                     `json:"updatedAt"`
	TickerCount int                       `json:"tickerCount"`
	Source      string                    `json:"source"`
}

// flush publishes every dirty priced row and clears its dirty flag. An empty
// batch is a no-op.
func (s *Streamer) flush(ctx context.Context) {
	dirty := s.table.Dirty()
	if len(dirty) == 0 {
		return
	}

	now := s.now()
	nowMs := now.UnixMilli()
	sess := s.sessions.Classify(now).Session

	rows := make(map[string]PriceRow, len(dirty))
	for _, sym := range dirty {
		st, _ := s.table.Get(sym)
		rows[sym] = deriveRow(st, sess)
		s.table.markClean(sym)
	}

	s.publish(ctx, rows, nowMs)

	if s.cache != nil && nowMs-s.run.LastDurableWrite > s.opts.DurableWriteInterval.Milliseconds() {
		s.writeDurable(ctx, rows, nowMs)
	}

	s.run.LastFlush = nowMs
	s.run.FlushCount++
	s.metrics.Flushes.Inc()
	s.metrics.RowsFlushed.Add(float64(len(rows)))
	s.logger.Debug("flushed", zap.Int("rows", len(rows)), zap.String("session", string(sess)))
}

// publish pushes rows with a known previous close. Failures are logged only.
func (s *Streamer) publish(ctx context.Context, rows map[string]PriceRow, nowMs int64) {
	if s.hub == nil {
		return
	}

	data := make(map[string]PriceRow, len(rows))
	for sym, row := range rows {
		if row.PC > 0 {
			data[sym] = row
		}
	}
	if len(data) == 0 {
		return
	}

	payload, err := json.Marshal(HubMessage{
		Type:      "prices",
		Data:      data,
		UpdatedAt: nowMs,
		Source:    s.opts.Source,
	})
	if err != nil {
		s.logger.Error("encode hub message", zap.Error(err))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()
	if err := s.hub.Publish(pctx, payload); err != nil {
		s.metrics.HubFailures.Inc()
		s.logger.Warn("hub push failed", zap.Int("rows", len(data)), zap.Error(err))
	}
}

// writeDurable merges rows into the stored snapshot and writes it back unless
// the result would shrink the snapshot.
func (s *Streamer) writeDurable(ctx context.Context, rows map[string]PriceRow, nowMs int64) {
	wctx, cancel := context.WithTimeout(ctx, s.opts.IOTimeout)
	defer cancel()

	existing, err := s.loadSnapshot(wctx)
	if err != nil {
		s.metrics.DurableWrites.WithLabelValues("failed").Inc()
		s.logger.Warn("durable read failed, write skipped", zap.Error(err))
		return
	}

	merged := s.merge(existing.Prices, rows)
	if err := checkShrink(len(existing.Prices), len(merged), s.opts.ShrinkMinEntries, s.opts.ShrinkRatio); err != nil {
		s.metrics.DurableWrites.WithLabelValues("aborted").Inc()
		s.logger.Warn("durable write aborted",
			zap.Int("existing", len(existing.Prices)),
			zap.Int("merged", len(merged)),
			zap.Error(err))
		return
	}

	b, err := json.Marshal(Snapshot{
		Prices:      merged,
		UpdatedAt:   nowMs,
		TickerCount: len(merged),
		Source:      s.opts.Source,
	})
	if err != nil {
		s.logger.Error("encode snapshot", zap.Error(err))
		return
	}
	if err := s.cache.Put(wctx, s.opts.CacheKey, b); err != nil {
		s.metrics.DurableWrites.WithLabelValues("failed").Inc()
		s.logger.Warn("durable write failed", zap.Error(err))
		return
	}

	s.run.LastDurableWrite = nowMs
	s.metrics.DurableWrites.WithLabelValues("ok").Inc()
}

// loadSnapshot reads the stored record. A missing key is an empty snapshot; an
// undecodable one is logged and treated as empty.
func (s *Streamer) loadSnapshot(ctx context.Context) (Snapshot, error) {
	raw, err := s.cache.Get(ctx, s.opts.CacheKey)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &snap); err != nil {
			s.logger.Warn("stored snapshot undecodable, rebuilding", zap.Error(err))
			snap = Snapshot{}
		}
	}
	if snap.Prices == nil {
		snap.Prices = map[string]map[string]any{}
	}
	return snap, nil
}

// mergeSnapshot overlays rows on existing without mutating it. A row with a
// previous close replaces every field it carries; otherwise only price, time
// and the non-zero day range and volume are taken.
func mergeSnapshot(existing map[string]map[string]any, rows map[string]PriceRow) map[string]map[string]any {
	merged := make(map[string]map[string]any, len(existing)+len(rows))
	for sym, entry := range existing {
		merged[sym] = entry
	}

	for sym, row := range rows {
		entry := make(map[string]any)
		maps.Copy(entry, existing[sym])

		if row.PC > 0 {
			maps.Copy(entry, row.fields())
		} else {
			entry["p"] = row.P
			entry["t"] = row.T
			if row.DH != 0 {
				entry["dh"] = row.DH
			}
			if row.DL != 0 {
				entry["dl"] = row.DL
			}
			if row.DV != 0 {
				entry["dv"] = row.DV
			}
		}
		merged[sym] = entry
	}
	return merged
}

// checkShrink rejects a write that takes a snapshot of more than minEntries
// entries below ratio of its size.
func checkShrink(existing, merged, minEntries int, ratio float64) error {
	if existing > minEntries && float64(merged) < ratio*float64(existing) {
		return fmt.Errorf("%w: %d -> %d entries", ErrWouldShrink, existing, merged)
	}
	return nil
}
