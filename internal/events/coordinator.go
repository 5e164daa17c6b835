// Package events coordinates the external events that confirm an instance's
// network interfaces were plugged by the network backend.
//
// A start attempt registers the events it expects with Coordinator.Prepare
// before plugging anything, runs its guarded body, then calls Guard.Wait.
// The deadline starts when the guard is prepared, so time spent in the body
// counts against it. Guard.Expired and Guard.Done let the body observe an
// elapsed deadline without waiting.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/jbweber/anvil/api/v1alpha1"
	"github.com/jbweber/anvil/internal/logging"
)

// Event statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrPlugTimeout is returned by Guard.Wait when the deadline elapses before
// every expected event arrived.
var ErrPlugTimeout = errors.New("timed out waiting for vif plugging")

// ErrAlreadyWaiting is returned by Prepare when the instance already has an
// active guard.
var ErrAlreadyWaiting = errors.New("instance is already waiting for events")

// Expected names an event a start attempt waits for.
type Expected struct {
	Name string
	Tag  string
}

// Key identifies the event, e.g. "network-vif-plugged-<vif id>".
func (e Expected) Key() string {
	return e.Name + "-" + e.Tag
}

// Event is an external event delivered for an instance.
type Event struct {
	Name   string `json:"name"`
	Tag    string `json:"tag"`
	Status string `json:"status"`
}

// Key identifies the event.
func (e Event) Key() string {
	return Expected{Name: e.Name, Tag: e.Tag}.Key()
}

// ErrorCallback is invoked for every event that did not complete. A non-nil
// return aborts the wait with that error; nil keeps waiting.
type ErrorCallback func(event Event, inst *v1alpha1.Instance) error

// Coordinator routes delivered events to the guard waiting for them.
type Coordinator struct {
	mu     sync.Mutex
	guards map[string]*Guard

	log logrus.FieldLogger
}

// NewCoordinator returns an empty coordinator.
func NewCoordinator(log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		guards: make(map[string]*Guard),
		log:    logging.Ensure(log),
	}
}

// Prepare registers the expected events for inst and starts the deadline.
// With no expected events the returned guard is inert: Wait returns nil at
// once and the guard never expires. The caller must Release the guard.
func (c *Coordinator) Prepare(inst *v1alpha1.Instance, expected []Expected, deadline time.Duration, onError ErrorCallback) (*Guard, error) {
	g := &Guard{
		coord:   c,
		inst:    inst,
		pending: make(map[string]chan Event, len(expected)),
		onError: onError,
		expired: make(chan struct{}),
		log:     logging.ForInstance(c.log, inst.UUID()),
	}
	for _, e := range expected {
		if _, dup := g.pending[e.Key()]; dup {
			continue
		}
		g.pending[e.Key()] = make(chan Event, 1)
		g.order = append(g.order, e.Key())
	}

	if len(g.order) == 0 {
		return g, nil
	}

	c.mu.Lock()
	if _, busy := c.guards[inst.UUID()]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", inst.UUID(), ErrAlreadyWaiting)
	}
	c.guards[inst.UUID()] = g
	c.mu.Unlock()
	g.registered = true

	if deadline > 0 {
		g.timer = time.AfterFunc(deadline, g.expire)
	}

	g.log.WithField("events", g.order).Debug("Waiting for external events")
	return g, nil
}

// Deliver hands ev to the guard of instanceUUID. It reports false when no
// guard is waiting for the event; such events are dropped.
func (c *Coordinator) Deliver(instanceUUID string, ev Event) bool {
	c.mu.Lock()
	g, ok := c.guards[instanceUUID]
	c.mu.Unlock()

	if !ok {
		logging.ForInstance(c.log, instanceUUID).WithField("event", ev.Key()).
			Debug("Dropping event for instance that is not waiting")
		return false
	}

	ch, ok := g.pending[ev.Key()]
	if !ok {
		g.log.WithField("event", ev.Key()).Debug("Dropping unexpected event")
		return false
	}

	select {
	case ch <- ev:
		g.log.WithField("event", ev.Key()).WithField("status", ev.Status).Debug("Received event")
	default:
		g.log.WithField("event", ev.Key()).Debug("Dropping duplicate event")
	}
	return true
}

// Waiting reports whether instanceUUID has an active guard.
func (c *Coordinator) Waiting(instanceUUID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.guards[instanceUUID]
	return ok
}

func (c *Coordinator) remove(g *Guard) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guards[g.inst.UUID()] == g {
		delete(c.guards, g.inst.UUID())
	}
}

// Guard is one start attempt's scoped registration of expected events.
type Guard struct {
	coord   *Coordinator
	inst    *v1alpha1.Instance
	pending map[string]chan Event
	order   []string
	onError ErrorCallback

	registered bool
	timer      *time.Timer

	expired     chan struct{}
	expiredFlag atomic.Bool
	released    atomic.Bool

	log logrus.FieldLogger
}

// Events returns the keys of the expected events in registration order.
func (g *Guard) Events() []string {
	return append([]string(nil), g.order...)
}

// Expired reports whether the deadline has elapsed.
func (g *Guard) Expired() bool {
	return g.expiredFlag.Load()
}

// Done is closed when the deadline elapses.
func (g *Guard) Done() <-chan struct{} {
	return g.expired
}

func (g *Guard) expire() {
	if !g.expiredFlag.Swap(true) {
		close(g.expired)
	}
}

// Wait blocks until every expected event arrived, the deadline elapsed, an
// error callback aborted the wait, or ctx was cancelled. Events that arrived
// before the deadline are honoured even if Wait is called after it.
func (g *Guard) Wait(ctx context.Context) error {
	for _, key := range g.order {
		ev, err := g.next(ctx, g.pending[key])
		if err != nil {
			return err
		}
		if ev.Status == StatusCompleted {
			continue
		}
		if g.onError == nil {
			continue
		}
		if err := g.onError(ev, g.inst); err != nil {
			return err
		}
	}
	return nil
}

func (g *Guard) next(ctx context.Context, ch chan Event) (Event, error) {
	select {
	case ev := <-ch:
		return ev, nil
	default:
	}

	select {
	case ev := <-ch:
		return ev, nil
	case <-g.expired:
		return Event{}, ErrPlugTimeout
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Release unregisters the guard and stops its deadline. It is safe to call
// more than once.
func (g *Guard) Release() {
	if g.released.Swap(true) {
		return
	}
	if g.timer != nil {
		g.timer.Stop()
	}
	if g.registered {
		g.coord.remove(g)
	}
}
