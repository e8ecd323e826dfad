package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pricestream/internal/session"
)

// Minutes around the regular open and close in which a reseed is forced.
const (
	openRefreshLead = 5
	closeRefreshLag = 5
)

// onAlarm is one scheduler tick: flush, repair connections, reseed when due,
// then rearm.
func (s *Streamer) onAlarm() {
	if !s.run.Running {
		return
	}
	ctx := s.runCtx

	s.flush(ctx)
	s.reconnectDead(ctx)

	now := s.now()
	if reason := s.reseedReason(now); reason != "" {
		s.logger.Info("refreshing snapshots", zap.String("reason", reason))
		s.seed(ctx)
	}

	if s.run.Running {
		s.arm(s.nextInterval(s.now()))
	}
}

func (s *Streamer) seed(ctx context.Context) SeedResult {
	res := s.seeder.Seed(ctx, s.universe, s.table, s.now)
	if ctx.Err() == nil {
		s.run.LastSeedRefresh = s.now().UnixMilli()
	}
	if res.Failed > 0 {
		s.logger.Warn("seed partially failed",
			zap.Int("seeded", res.Seeded),
			zap.Int("failed_batches", res.Failed),
			zap.Int("batches", res.Batches))
	}
	return res
}

// reseedReason returns why a reseed is due, or "" when it is not.
func (s *Streamer) reseedReason(now time.Time) string {
	info := s.sessions.Classify(now)
	if key := boundaryKey(info); key != "" && key != s.run.BoundaryKey {
		s.run.BoundaryKey = key
		return "session boundary " + key
	}
	if now.UnixMilli()-s.run.LastSeedRefresh > s.opts.SeedStaleness.Milliseconds() {
		return "stale"
	}
	return ""
}

// boundaryKey names the open or close window info falls in, once per day.
func boundaryKey(info session.Info) string {
	if !info.TradingDay() {
		return ""
	}
	open := session.RegularOpen - openRefreshLead
	closing := info.CloseMinute + closeRefreshLag
	switch m := info.Minute; {
	case m >= open && m <= open+1:
		return "open-" + info.Date
	case m >= closing && m <= closing+1:
		return "close-" + info.Date
	}
	return ""
}

// nextInterval is the delay until the next tick for the session at now.
func (s *Streamer) nextInterval(now time.Time) time.Duration {
	if s.sessions.Classify(now).Session.Active() {
		return s.opts.ActiveInterval
	}
	return s.opts.ClosedInterval
}

func (s *Streamer) arm(d time.Duration) {
	if s.timer == nil {
		s.timer = time.NewTimer(d)
		return
	}
	s.timer.Reset(d)
}

func (s *Streamer) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// timerC is nil while no tick is armed, which blocks forever in a select.
func (s *Streamer) timerC() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.C
}
