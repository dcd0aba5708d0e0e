package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/certflow/certflow/internal/metrics"
	"github.com/certflow/certflow/internal/pool"
	"github.com/certflow/certflow/types"
)

// Handler consumes a delivered message. Returning an error marks the
// delivery failed for this subscription only; other subscribers still
// receive the message.
type Handler func(ctx context.Context, msg Message) error

// Config tunes bus capacities and delivery behavior.
type Config struct {
	// HistoryCapacity bounds the message history ring. When full the
	// oldest entry is evicted.
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`
	// DeliveryTimeout caps how long a single handler may run.
	DeliveryTimeout time.Duration `json:"delivery_timeout" yaml:"delivery_timeout"`
	// Workers and QueueSize size the delivery pool.
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// DefaultConfig returns the bus defaults.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: 100,
		DeliveryTimeout: 30 * time.Second,
		Workers:         16,
		QueueSize:       1024,
	}
}

type subscription struct {
	id           string
	subscriberID string
	pattern      Pattern
	handler      Handler
	seq          int64
}

type waiter struct {
	requestID string
	ch        chan Message
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithMetrics points the bus at a metrics collector. A nil collector is a
// no-op.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *Bus) { b.metrics = c }
}

// Bus routes messages between in-process subscribers.
type Bus struct {
	config  Config
	logger  *zap.Logger
	pool    *pool.WorkerPool
	metrics *metrics.Collector

	mu     sync.RWMutex
	subs   map[string]*subscription
	subSeq int64

	historyMu    sync.RWMutex
	history      []Message
	historyStart int

	waiterMu sync.Mutex
	waiters  map[string]*waiter

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	published      atomic.Int64
	delivered      atomic.Int64
	deliveryErrors atomic.Int64
	dropped        atomic.Int64
}

// New creates a bus. A nil logger falls back to a no-op logger and zero
// config fields fall back to DefaultConfig values.
func New(config Config, logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.HistoryCapacity <= 0 {
		config.HistoryCapacity = def.HistoryCapacity
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = def.DeliveryTimeout
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}

	logger = logger.With(zap.String("component", "bus"))
	b := &Bus{
		config:  config,
		logger:  logger,
		subs:    make(map[string]*subscription),
		history: make([]Message, 0, config.HistoryCapacity),
		waiters: make(map[string]*waiter),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	poolCfg := pool.DefaultWorkerPoolConfig()
	poolCfg.MaxWorkers = config.Workers
	poolCfg.QueueSize = config.QueueSize
	poolCfg.PanicHandler = func(r any) {
		logger.Error("delivery worker panic", zap.Any("panic", r))
	}
	b.pool = pool.NewWorkerPool(poolCfg)
	return b
}

// Subscribe registers a handler for messages matching pattern and returns
// the subscription id used with Unsubscribe. Subscriptions are delivered in
// creation order within the same precedence class.
func (b *Bus) Subscribe(subscriberID string, pattern Pattern, handler Handler) string {
	seq := atomic.AddInt64(&b.subSeq, 1)
	sub := &subscription{
		id:           fmt.Sprintf("%s-%d", subscriberID, seq),
		subscriberID: subscriberID,
		pattern:      pattern,
		handler:      handler,
		seq:          seq,
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscription added",
		zap.String("subscription_id", sub.id),
		zap.String("type", pattern.Type),
		zap.String("target", pattern.Target))
	return sub.id
}

// Unsubscribe removes a subscription. It returns false when the id is
// unknown, which callers may treat as already removed.
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	_, ok := b.subs[subscriptionID]
	delete(b.subs, subscriptionID)
	b.mu.Unlock()

	if ok {
		b.logger.Debug("subscription removed", zap.String("subscription_id", subscriptionID))
	}
	return ok
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish routes msg to every matching subscription. Missing id, timestamp
// and priority are filled in. The message is appended to history before
// delivery, so history records publishes even when nobody is subscribed.
// Delivery itself is asynchronous; Publish returns once every delivery has
// been enqueued.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if b.closed.Load() {
		return types.NewError(types.ErrBusClosed, "bus is closed")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Meta.Timestamp.IsZero() {
		msg.Meta.Timestamp = time.Now()
	}
	if msg.Meta.Priority == "" {
		msg.Meta.Priority = types.PriorityNormal
	}

	b.appendHistory(msg)
	b.published.Add(1)
	b.metrics.RecordBusPublish()
	b.dispatch(msg)
	b.resolveWaiter(msg)

	b.emitSystem(TypeMessagePublished, map[string]any{
		"message_id": msg.ID,
		"type":       msg.Type,
		"source":     msg.Meta.Source,
		"target":     msg.Meta.Target,
		"priority":   string(msg.Meta.Priority),
	})
	return nil
}

// dispatch snapshots the matching subscriptions, orders them and enqueues
// one delivery task per subscription.
func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.pattern.Matches(msg) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	if len(matched) == 0 {
		return
	}

	// Exact target matches first, then higher pattern priority, then
	// subscription age.
	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := matched[i].pattern.isTargetMatch(msg), matched[j].pattern.isTargetMatch(msg)
		if ti != tj {
			return ti
		}
		ri, rj := matched[i].pattern.Priority.Rank(), matched[j].pattern.Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return matched[i].seq < matched[j].seq
	})

	for _, sub := range matched {
		sub := sub
		err := b.pool.Submit(context.Background(), func(ctx context.Context) error {
			b.deliver(ctx, sub, msg)
			return nil
		})
		if err != nil {
			b.dropped.Add(1)
			b.logger.Warn("delivery dropped",
				zap.String("subscription_id", sub.id),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

// deliver runs one handler with the delivery timeout, converting panics
// into errors so a misbehaving subscriber cannot take down a worker.
func (b *Bus) deliver(ctx context.Context, sub *subscription, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, b.config.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return sub.handler(ctx, msg)
	}()

	if err != nil {
		b.deliveryErrors.Add(1)
		b.metrics.RecordBusDelivery(false)
		b.logger.Warn("delivery failed",
			zap.String("subscription_id", sub.id),
			zap.String("message_id", msg.ID),
			zap.String("type", msg.Type),
			zap.Error(err))
		if !isSystem(msg.Type) {
			b.emitSystem(TypeDeliveryError, map[string]any{
				"message_id":      msg.ID,
				"subscription_id": sub.id,
				"error":           err.Error(),
			})
		}
		return
	}

	b.delivered.Add(1)
	b.metrics.RecordBusDelivery(true)
	if !isSystem(msg.Type) {
		b.emitSystem(TypeMessageDelivered, map[string]any{
			"message_id":      msg.ID,
			"subscription_id": sub.id,
			"duration_ms":     time.Since(start).Milliseconds(),
		})
	}
}

// emitSystem publishes a bus lifecycle signal. System messages skip the
// history ring and never produce further lifecycle signals.
func (b *Bus) emitSystem(msgType string, payload map[string]any) {
	if b.closed.Load() {
		return
	}
	b.dispatch(NewMessage(msgType, payload, WithSource("bus")))
}

func (b *Bus) appendHistory(msg Message) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	if len(b.history) < b.config.HistoryCapacity {
		b.history = append(b.history, msg)
	} else {
		b.history[b.historyStart] = msg
		b.historyStart = (b.historyStart + 1) % len(b.history)
	}
	b.metrics.SetBusHistorySize(len(b.history))
}

// History returns recorded messages oldest first. A non-nil filter keeps
// only messages it matches.
func (b *Bus) History(filter *Pattern) []Message {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	out := make([]Message, 0, len(b.history))
	for i := 0; i < len(b.history); i++ {
		msg := b.history[(b.historyStart+i)%len(b.history)]
		if filter == nil || filter.Matches(msg) {
			out = append(out, msg)
		}
	}
	return out
}

// Request publishes msg and waits for the first message that carries the
// same correlation id, up to timeout. A correlation id is generated when
// the message has none. The response is any later message with that id, so
// responders typically build it with Reply.
func (b *Bus) Request(ctx context.Context, msg Message, timeout time.Duration) (Message, error) {
	if b.closed.Load() {
		return Message{}, types.NewError(types.ErrBusClosed, "bus is closed")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Meta.CorrelationID == "" {
		msg.Meta.CorrelationID = uuid.New().String()
	}

	w := &waiter{requestID: msg.ID, ch: make(chan Message, 1)}
	b.waiterMu.Lock()
	b.waiters[msg.Meta.CorrelationID] = w
	b.waiterMu.Unlock()
	defer func() {
		b.waiterMu.Lock()
		if b.waiters[msg.Meta.CorrelationID] == w {
			delete(b.waiters, msg.Meta.CorrelationID)
		}
		b.waiterMu.Unlock()
	}()

	if err := b.Publish(ctx, msg); err != nil {
		return Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-w.ch:
		return resp, nil
	case <-timer.C:
		return Message{}, types.NewError(types.ErrRequestTimeout,
			fmt.Sprintf("no response within %s", timeout)).
			WithDetail("correlation_id", msg.Meta.CorrelationID).
			WithRetryable(true)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-b.done:
		return Message{}, types.NewError(types.ErrBusClosed, "bus is closed")
	}
}

// resolveWaiter completes a pending Request when msg is a response to it.
// The request message itself carries the correlation id too, so it is
// filtered out by id.
func (b *Bus) resolveWaiter(msg Message) {
	if msg.Meta.CorrelationID == "" {
		return
	}
	b.waiterMu.Lock()
	w, ok := b.waiters[msg.Meta.CorrelationID]
	if ok && w.requestID != msg.ID {
		delete(b.waiters, msg.Meta.CorrelationID)
	} else {
		w = nil
	}
	b.waiterMu.Unlock()

	if w != nil {
		w.ch <- msg
	}
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Published      int64 `json:"published"`
	Delivered      int64 `json:"delivered"`
	DeliveryErrors int64 `json:"delivery_errors"`
	Dropped        int64 `json:"dropped"`
	Subscriptions  int   `json:"subscriptions"`
	HistorySize    int   `json:"history_size"`
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.historyMu.RLock()
	historySize := len(b.history)
	b.historyMu.RUnlock()

	return Stats{
		Published:      b.published.Load(),
		Delivered:      b.delivered.Load(),
		DeliveryErrors: b.deliveryErrors.Load(),
		Dropped:        b.dropped.Load(),
		Subscriptions:  b.SubscriptionCount(),
		HistorySize:    historySize,
	}
}

// Close stops the bus. In-flight deliveries drain, pending Request calls
// fail with BusClosed and later publishes are rejected. Close is
// idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		b.pool.Close()
		b.logger.Info("bus closed",
			zap.Int64("published", b.published.Load()),
			zap.Int64("delivered", b.delivered.Load()))
	})
}
