package service

import (
	"sync"

	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/types"
	"github.com/faredeal/accessctl/internal/metrics"
)

type subscription struct {
	id uint64
	fn func(types.Event)
}

// subscribers keeps callbacks in registration order.
type subscribers struct {
	mu      sync.RWMutex
	nextID  uint64
	list    []subscription
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Subscribe registers fn for every change event and returns a function that
// removes it. The returned function is safe to call more than once.
//
// Callbacks run synchronously on the goroutine that made the change, after
// the change is durable. A panicking callback is recovered and logged; the
// remaining callbacks still run.
func (a *AccessControl) Subscribe(fn func(types.Event)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	id := a.subs.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() { a.subs.remove(id) })
	}
}

func (s *subscribers) add(fn func(types.Event)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.list = append(s.list, subscription{id: s.nextID, fn: fn})
	s.gauge()
	return s.nextID
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			break
		}
	}
	s.gauge()
}

func (s *subscribers) snapshot() []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]subscription(nil), s.list...)
}

func (s *subscribers) gauge() {
	if s.metrics != nil {
		s.metrics.Subscribers.Set(float64(len(s.list)))
	}
}

func (a *AccessControl) publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now()
	}
	for _, sub := range a.subs.snapshot() {
		a.subs.deliver(sub, ev)
	}
}

func (s *subscribers) deliver(sub subscription, ev types.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("access-control subscriber panicked",
				zap.Uint64("subscriber", sub.id),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r))
			if s.metrics != nil {
				s.metrics.SubscriberPanics.Inc()
			}
		}
	}()
	if ev.Settings != nil {
		c := ev.Settings.Clone()
		ev.Settings = &c
	}
	sub.fn(ev)
}
