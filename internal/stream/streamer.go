package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"pricestream/internal/session"
	"pricestream/pkg/twelvedata"
)

// ErrStopped is returned by control calls once Run has returned.
var ErrStopped = errors.New("stream: streamer loop stopped")

const (
	// Provider names the upstream feed in status reports.
	Provider = "twelvedata"
	// ViewSource tags entries of the prices dump.
	ViewSource = "twelvedata_ws"
)

// Options are the streamer's tunables.
type Options struct {
	MaxConnections       int
	HeartbeatInterval    time.Duration
	FirstTickDelay       time.Duration
	ActiveInterval       time.Duration
	ClosedInterval       time.Duration
	DurableWriteInterval time.Duration
	SeedStaleness        time.Duration
	BatchSize            int
	RequestsPerMinute    int
	ShrinkMinEntries     int
	ShrinkRatio          float64
	InboxSize            int
	IOTimeout            time.Duration
	CacheKey             string
	Source               string
}

func DefaultOptions() Options {
	return Options{
		MaxConnections:       3,
		HeartbeatInterval:    10 * time.Second,
		FirstTickDelay:       time.Second,
		ActiveInterval:       5 * time.Second,
		ClosedInterval:       10 * time.Second,
		DurableWriteInterval: 10 * time.Second,
		SeedStaleness:        60 * time.Second,
		BatchSize:            8,
		ShrinkMinEntries:     50,
		ShrinkRatio:          0.8,
		InboxSize:            4096,
		IOTimeout:            10 * time.Second,
		CacheKey:             "timed:prices",
		Source:               "twelvedata_stream",
	}
}

// Deps are the streamer's collaborators. Hub and Cache may be nil.
type Deps struct {
	Translator *twelvedata.Translator
	Quotes     QuoteFetcher
	Dialer     Dialer
	Hub        Publisher
	Cache      SnapshotStore
	Sessions   session.Classifier
	Metrics    *Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// RunState holds the streamer's lifecycle counters.
type RunState struct {
	Running          bool
	StartedAt        int64
	LastFlush        int64
	LastDurableWrite int64
	LastSeedRefresh  int64
	TickCount        int64
	FlushCount       int64
	SeedCount        int64
	BoundaryKey      string
}

// Streamer keeps the price table fresh. All state is owned by the goroutine
// running Run; other goroutines reach it through the control methods and the
// socket readers through the inbox.
type Streamer struct {
	opts       Options
	translator *twelvedata.Translator
	seeder     *Seeder
	dialer     Dialer
	hub        Publisher
	cache      SnapshotStore
	sessions   session.Classifier
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time

	inbox   chan any
	control chan request
	done    chan struct{}

	// owned by the Run goroutine
	table    *Table
	universe []string
	slots    []*slot
	run      RunState
	timer    *time.Timer
	nextGen  uint64
	loopCtx  context.Context
	runCtx   context.Context
	merge    func(existing map[string]map[string]any, rows map[string]PriceRow) map[string]map[string]any

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
}

type request struct {
	fn   func()
	done chan struct{}
}

func New(opts Options, deps Deps) *Streamer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Translator == nil {
		deps.Translator = twelvedata.DefaultTranslator()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 10 * time.Second
	}
	logger := deps.Logger.With(zap.String("component", "streamer"))

	return &Streamer{
		opts:       opts,
		translator: deps.Translator,
		seeder:     NewSeeder(deps.Quotes, deps.Translator, opts.BatchSize, opts.RequestsPerMinute, deps.Logger, deps.Metrics),
		dialer:     deps.Dialer,
		hub:        deps.Hub,
		cache:      deps.Cache,
		sessions:   deps.Sessions,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        deps.Now,
		inbox:      make(chan any, opts.InboxSize),
		control:    make(chan request),
		done:       make(chan struct{}),
		table:      NewTable(),
		loopCtx:    context.Background(),
		runCtx:     context.Background(),
		merge:      mergeSnapshot,
	}
}

// Run processes control calls, socket events and scheduler ticks until ctx is
// done. It must be called once.
func (s *Streamer) Run(ctx context.Context) error {
	s.loopCtx = ctx
	defer close(s.done)
	defer s.shutdown()

	s.logger.Info("streamer loop started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.control:
			s.safely("control", req.fn)
			close(req.done)
		case ev := <-s.inbox:
			s.safely("event", func() { s.dispatch(ev) })
		case <-s.timerC():
			s.safely("alarm", s.onAlarm)
		}
	}
}

func (s *Streamer) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recovered panic in streamer loop", zap.String("in", what), zap.Any("panic", r))
		}
	}()
	fn()
}

func (s *Streamer) dispatch(ev any) {
	switch ev := ev.(type) {
	case frameEvent:
		s.onFrame(ev)
	case closeEvent:
		s.onClose(ev)
	}
}

// post hands an event to the loop; it gives up once the loop has exited.
func (s *Streamer) post(ev any) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	}
}

// call runs fn on the loop goroutine and waits for it.
func (s *Streamer) call(ctx context.Context, fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.control <- req:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Streamer) shutdown() {
	s.disconnectAll()
	s.stopTimer()
	s.cancelInFlight()
	s.run.Running = false
	s.logger.Info("streamer loop stopped")
}

// StartResult is the reply to Start.
type StartResult struct {
	OK          bool   `json:"ok"`
	Status      string `json:"status"`
	Symbols     int    `json:"symbols"`
	Seeded      int64  `json:"seeded"`
	Connections int    `json:"connections"`
}

// Start begins streaming symbols. On a running streamer a non-empty symbols
// list replaces the universe and reseeds; connections are not resharded.
// An empty list keeps the current universe.
func (s *Streamer) Start(ctx context.Context, symbols []string) (StartResult, error) {
	var res StartResult
	err := s.call(ctx, func() { res = s.handleStart(symbols) })
	return res, err
}

func (s *Streamer) handleStart(symbols []string) StartResult {
	if len(symbols) > 0 {
		s.universe = s.translator.Filter(symbols)
	}

	if !s.run.Running {
		s.run = RunState{Running: true, StartedAt: s.now().UnixMilli()}
		s.runCtx = s.newRunContext()
		s.logger.Info("starting", zap.Int("symbols", len(s.universe)))

		res := s.seed(s.runCtx)
		s.run.SeedCount = int64(res.Seeded)
		s.connectAll(s.runCtx)
		s.arm(s.opts.FirstTickDelay)
	} else if len(symbols) > 0 {
		s.logger.Info("reseeding running streamer", zap.Int("symbols", len(s.universe)))
		res := s.seed(s.runCtx)
		s.run.SeedCount = int64(res.Seeded)
	}

	return StartResult{
		OK:          true,
		Status:      "running",
		Symbols:     len(s.universe),
		Seeded:      s.run.SeedCount,
		Connections: s.activeConnections(),
	}
}

// Stop aborts in-flight provider I/O, flushes pending rows and closes every
// connection.
func (s *Streamer) Stop(ctx context.Context) error {
	s.cancelInFlight()
	return s.call(ctx, s.handleStop)
}

func (s *Streamer) handleStop() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.loopCtx), s.opts.IOTimeout)
	defer cancel()

	s.flush(ctx)
	s.disconnectAll()
	s.stopTimer()
	s.cancelInFlight()
	if s.run.Running {
		s.logger.Info("stopped", zap.Int64("ticks", s.run.TickCount), zap.Int64("flushes", s.run.FlushCount))
	}
	s.run.Running = false
}

// newRunContext derives the context that Stop cancels.
func (s *Streamer) newRunContext() context.Context {
	ctx, cancel := context.WithCancel(s.loopCtx)
	s.cancelMu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.cancelRun = cancel
	s.cancelMu.Unlock()
	return ctx
}

func (s *Streamer) cancelInFlight() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
}

// SlotStatus is the liveness of one pool member.
type SlotStatus struct {
	Index   int  `json:"index"`
	Active  bool `json:"active"`
	Symbols int  `json:"symbols"`
}

// Status is a read-only snapshot of the run counters.
type Status struct {
	OK                bool         `json:"ok"`
	IsRunning         bool         `json:"isRunning"`
	StartedAt         int64        `json:"startedAt"`
	Session           string       `json:"session"`
	ConnectionsActive int          `json:"connectionsActive"`
	ConnectionsTotal  int          `json:"connectionsTotal"`
	SymbolCount       int          `json:"symbolCount"`
	SubscribedSymbols int          `json:"subscribedSymbols"`
	PricesReceived    int64        `json:"pricesReceived"`
	SnapshotSeeds     int64        `json:"snapshotSeeds"`
	FlushCount        int64        `json:"flushCount"`
	LastFlush         int64        `json:"lastFlush"`
	LastDurableWrite  int64        `json:"lastDurableWrite"`
	LastSeedRefresh   int64        `json:"lastSeedRefresh"`
	UptimeSeconds     int64        `json:"uptimeSeconds"`
	Provider          string       `json:"provider"`
	Slots             []SlotStatus `json:"slots"`
}

func (s *Streamer) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.call(ctx, func() { st = s.status() })
	return st, err
}

func (s *Streamer) status() Status {
	now := s.now()
	st := Status{
		OK:                true,
		IsRunning:         s.run.Running,
		StartedAt:         s.run.StartedAt,
		Session:           string(s.sessions.Classify(now).Session),
		ConnectionsActive: s.activeConnections(),
		ConnectionsTotal:  s.opts.MaxConnections,
		SymbolCount:       s.table.Len(),
		SubscribedSymbols: len(s.universe),
		PricesReceived:    s.run.TickCount,
		SnapshotSeeds:     s.run.SeedCount,
		FlushCount:        s.run.FlushCount,
		LastFlush:         s.run.LastFlush,
		LastDurableWrite:  s.run.LastDurableWrite,
		LastSeedRefresh:   s.run.LastSeedRefresh,
		Provider:          Provider,
		Slots:             make([]SlotStatus, 0, len(s.slots)),
	}
	if s.run.Running && s.run.StartedAt > 0 {
		st.UptimeSeconds = (now.UnixMilli() - s.run.StartedAt) / 1000
	}
	for _, sl := range s.slots {
		st.Slots = append(st.Slots, SlotStatus{Index: sl.index, Active: sl.socket != nil, Symbols: len(sl.symbols)})
	}
	return st
}

// Prices is the full dump of priced instruments.
type Prices struct {
	OK        bool                 `json:"ok"`
	Prices    map[string]PriceView `json:"prices"`
	UpdatedAt int64                `json:"updatedAt"`
}

func (s *Streamer) Prices(ctx context.Context) (Prices, error) {
	var out Prices
	err := s.call(ctx, func() { out = s.prices() })
	return out, err
}

func (s *Streamer) prices() Prices {
	out := Prices{OK: true, Prices: make(map[string]PriceView), UpdatedAt: s.now().UnixMilli()}
	for _, sym := range s.table.Priced() {
		st, _ := s.table.Get(sym)
		out.Prices[sym] = deriveView(st, ViewSource)
	}
	return out
}
