package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pricestream/pkg/twelvedata"
)

// Socket is one live provider connection.
type Socket interface {
	Subscribe(wireSymbols []string) error
	Heartbeat() error
	// Listen blocks, delivering frames until the connection ends.
	Listen(onMessage func([]byte)) error
	Close() error
}

// Dialer opens provider connections.
type Dialer interface {
	// Configured is false when no credential is set; no dial is attempted then.
	Configured() bool
	Dial(ctx context.Context) (Socket, error)
}

// WSDialer adapts a twelvedata websocket client to Dialer.
type WSDialer struct {
	Client *twelvedata.WSClient
}

func (d WSDialer) Configured() bool {
	return d.Client.Configured()
}

func (d WSDialer) Dial(ctx context.Context) (Socket, error) {
	conn, err := d.Client.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// slot is one member of the connection pool. gen identifies the socket
// currently held so events from a replaced socket can be ignored.
type slot struct {
	index    int
	symbols  []string
	socket   Socket
	gen      uint64
	stopBeat chan struct{}
}

type frameEvent struct {
	slot int
	gen  uint64
	data []byte
}

type closeEvent struct {
	slot int
	gen  uint64
	err  error
}

// connectAll reshards the universe and opens one connection per shard.
func (s *Streamer) connectAll(ctx context.Context) {
	s.disconnectAll()

	shards := Shards(s.universe, s.opts.MaxConnections)
	s.slots = make([]*slot, len(shards))
	for i, shard := range shards {
		s.slots[i] = &slot{index: i, symbols: shard}
	}

	if !s.dialer.Configured() {
		s.logger.Warn("provider credential missing, connections skipped",
			zap.Int("symbols", len(s.universe)))
		return
	}

	for i := range s.slots {
		if ctx.Err() != nil {
			return
		}
		s.connectOne(ctx, i)
	}
	s.logger.Info("connections opened",
		zap.Int("active", s.activeConnections()),
		zap.Int("slots", len(s.slots)))
}

// connectOne replaces the socket in slot i with a fresh one subscribed to the
// slot's shard. Failures leave the slot empty for the next scheduler tick.
func (s *Streamer) connectOne(ctx context.Context, i int) {
	sl := s.slots[i]
	s.closeSlot(sl)

	if !s.dialer.Configured() {
		return
	}
	wire := s.translator.WireSymbols(sl.symbols)
	if len(wire) == 0 {
		return
	}
	log := s.logger.With(zap.Int("slot", i))

	sock, err := s.dialer.Dial(ctx)
	if err != nil {
		log.Warn("connect failed", zap.Error(err))
		return
	}
	// Dial returned after stop
	if !s.run.Running || ctx.Err() != nil {
		_ = sock.Close()
		log.Info("discarding connection opened after stop")
		return
	}

	if err := sock.Subscribe(wire); err != nil {
		log.Warn("subscribe failed", zap.Error(err))
		_ = sock.Close()
		return
	}

	s.nextGen++
	sl.gen = s.nextGen
	sl.socket = sock
	sl.stopBeat = make(chan struct{})
	go heartbeat(sock, s.opts.HeartbeatInterval, sl.stopBeat, log)
	go s.listen(sock, i, sl.gen)

	s.metrics.ActiveConnections.Set(float64(s.activeConnections()))
	log.Info("connected", zap.Int("symbols", len(wire)))
}

// listen runs on its own goroutine and only talks to the actor via the inbox.
func (s *Streamer) listen(sock Socket, i int, gen uint64) {
	err := sock.Listen(func(b []byte) {
		s.post(frameEvent{slot: i, gen: gen, data: b})
	})
	s.post(closeEvent{slot: i, gen: gen, err: err})
}

func heartbeat(sock Socket, every time.Duration, stop <-chan struct{}, log *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sock.Heartbeat(); err != nil {
				log.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (s *Streamer) onClose(ev closeEvent) {
	sl := s.slotFor(ev.slot, ev.gen)
	if sl == nil {
		return
	}
	s.logger.Warn("connection closed", zap.Int("slot", ev.slot), zap.Error(ev.err))
	s.closeSlot(sl)
}

// slotFor returns the slot still holding socket generation gen.
func (s *Streamer) slotFor(i int, gen uint64) *slot {
	if i < 0 || i >= len(s.slots) {
		return nil
	}
	sl := s.slots[i]
	if sl.socket == nil || sl.gen != gen {
		return nil
	}
	return sl
}

func (s *Streamer) closeSlot(sl *slot) {
	if sl.stopBeat != nil {
		close(sl.stopBeat)
		sl.stopBeat = nil
	}
	if sl.socket != nil {
		_ = sl.socket.Close()
		sl.socket = nil
	}
	s.metrics.ActiveConnections.Set(float64(s.activeConnections()))
}

// disconnectAll closes every socket and heartbeat. Safe to repeat.
func (s *Streamer) disconnectAll() {
	for _, sl := range s.slots {
		s.closeSlot(sl)
	}
}

func (s *Streamer) reconnectDead(ctx context.Context) {
	if !s.dialer.Configured() {
		return
	}
	for i, sl := range s.slots {
		if sl.socket != nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.metrics.Reconnects.Inc()
		s.logger.Info("reconnecting", zap.Int("slot", i), zap.Int("symbols", len(sl.symbols)))
		s.connectOne(ctx, i)
	}
}

func (s *Streamer) activeConnections() int {
	n := 0
	for _, sl := range s.slots {
		if sl.socket != nil {
			n++
		}
	}
	return n
}

func (s *Streamer) onFrame(ev frameEvent) {
	if !s.run.Running || s.slotFor(ev.slot, ev.gen) == nil {
		return
	}

	msg, err := twelvedata.ParseEvent(ev.data)
	if err != nil {
		s.logger.Debug("dropping malformed frame", zap.Int("slot", ev.slot), zap.Error(err))
		return
	}

	switch msg.Event {
	case twelvedata.EventPrice:
		s.onPrice(msg)
	case twelvedata.EventSubscribeStatus:
		s.logger.Info("subscribe status",
			zap.Int("slot", ev.slot),
			zap.String("status", msg.Status),
			zap.Int("success", len(msg.Success)),
			zap.Int("fails", len(msg.Fails)))
	default:
		// heartbeat acks, {"status":"ok"} and unknown events
	}
}

func (s *Streamer) onPrice(msg twelvedata.Event) {
	s.run.TickCount++
	s.metrics.TicksReceived.Inc()

	price := msg.Price.Or(0)
	if msg.Symbol == "" || !validPrice(price) {
		s.metrics.TicksDiscarded.WithLabelValues("invalid").Inc()
		return
	}

	tsMs := s.now().UnixMilli()
	if msg.Timestamp.Valid && msg.Timestamp.Value > 0 {
		tsMs = int64(msg.Timestamp.Value * 1000)
	}

	sym := s.translator.FromWire(msg.Symbol)
	if !s.table.ApplyTick(sym, price, tsMs, int64(msg.DayVolume.Or(0))) {
		s.metrics.TicksDiscarded.WithLabelValues("stale").Inc()
		s.logger.Debug("stale tick", zap.String("symbol", sym), zap.Int64("ts", tsMs))
	}
}
