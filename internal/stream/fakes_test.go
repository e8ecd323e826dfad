package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricestream/internal/session"
	"pricestream/pkg/twelvedata"
)

var errFakeClosed = errors.New("fake socket closed")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSessions struct {
	mu   sync.Mutex
	info session.Info
}

func (f *fakeSessions) Classify(time.Time) session.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.info
}

func (f *fakeSessions) Set(info session.Info) {
	f.mu.Lock()
	f.info = info
	f.mu.Unlock()
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]twelvedata.Quote
	err    error
	errFor func(call int) error // per-call failure, by zero-based call index
	block  chan struct{}        // when set, calls wait for it or ctx
	calls  [][]string
}

func (f *fakeQuotes) GetQuotes(ctx context.Context, wire []string) (map[string]twelvedata.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), wire...))
	block, err := f.block, f.err
	if f.errFor != nil && err == nil {
		err = f.errFor(len(f.calls) - 1)
	}
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]twelvedata.Quote)
	for _, w := range wire {
		if q, ok := f.quotes[w]; ok {
			out[w] = q
		}
	}
	return out, nil
}

func (f *fakeQuotes) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSocket struct {
	mu         sync.Mutex
	subscribed []string
	heartbeats int
	frames     chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{frames: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeSocket) Subscribe(wire []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, wire...)
	return nil
}

func (f *fakeSocket) Heartbeat() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeSocket) Listen(onMessage func([]byte)) error {
	for {
		select {
		case b := <-f.frames:
			onMessage(b)
		case <-f.closed:
			return errFakeClosed
		}
	}
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) Push(frame string) {
	f.frames <- []byte(frame)
}

func (f *fakeSocket) Subscribed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeSocket) IsClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	configured bool
	sockets    []*fakeSocket
	// late makes Dial wait for ctx to end and then hand back a socket anyway
	late    bool
	dialing int
}

func (f *fakeDialer) Configured() bool {
	return f.configured
}

func (f *fakeDialer) Dial(ctx context.Context) (Socket, error) {
	f.mu.Lock()
	f.dialing++
	late := f.late
	f.mu.Unlock()

	if late {
		<-ctx.Done()
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	sock := newFakeSocket()
	f.mu.Lock()
	f.sockets = append(f.sockets, sock)
	f.mu.Unlock()
	return sock, nil
}

func (f *fakeDialer) Dialing() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialing
}

func (f *fakeDialer) Sockets() []*fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeSocket(nil), f.sockets...)
}

type fakeHub struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (f *fakeHub) Publish(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

func (f *fakeHub) Payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	puts int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.puts++
	return nil
}

func (m *memStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// harness runs a Streamer loop against fakes. Scheduler intervals are long
// enough that ticks only happen through tick().
type harness struct {
	s        *Streamer
	clock    *fakeClock
	sessions *fakeSessions
	quotes   *fakeQuotes
	dialer   *fakeDialer
	hub      *fakeHub
	store    *memStore
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.FirstTickDelay = time.Hour
	opts.ActiveInterval = time.Hour
	opts.ClosedInterval = time.Hour
	opts.HeartbeatInterval = 0
	opts.IOTimeout = 2 * time.Second
	return opts
}

func regularSession() session.Info {
	return session.Info{
		Session:     session.Regular,
		Date:        "2026-10-19",
		Minute:      600,
		CloseMinute: session.RegularClose,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{t: time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)},
		sessions: &fakeSessions{info: regularSession()},
		quotes:   &fakeQuotes{quotes: map[string]twelvedata.Quote{}},
		dialer:   &fakeDialer{configured: true},
		hub:      &fakeHub{},
		store:    newMemStore(),
	}
	h.s = New(opts, Deps{
		Quotes:   h.quotes,
		Dialer:   h.dialer,
		Hub:      h.hub,
		Cache:    h.store,
		Sessions: h.sessions,
		Now:      h.clock.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) ctx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (h *harness) start(t *testing.T, symbols ...string) StartResult {
	t.Helper()
	res, err := h.s.Start(h.ctx(t), symbols)
	require.NoError(t, err)
	return res
}

// tick runs one scheduler tick on the loop goroutine.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.s.call(h.ctx(t), h.s.onAlarm))
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.s.Status(h.ctx(t))
	require.NoError(t, err)
	return st
}

func (h *harness) prices(t *testing.T) Prices {
	t.Helper()
	p, err := h.s.Prices(h.ctx(t))
	require.NoError(t, err)
	return p
}

func (h *harness) waitFor(t *testing.T, cond func(Status) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		st, err := h.s.Status(ctx)
		return err == nil && cond(st)
	}, 3*time.Second, 10*time.Millisecond, msg)
}
