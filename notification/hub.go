package notification

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"godeploy/logging"
	"godeploy/metrics"
)

var ErrChannelNotFound = errors.New("no live log channel")

// Hub fans build output out to live viewers. Each deployment being built has
// one Channel holding the lines produced so far, so late joiners can catch up.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	log      *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]*Channel),
		log:      logging.C("hub"),
	}
}

// OpenChannel returns the live channel for deploymentID, creating it if needed.
func (h *Hub) OpenChannel(deploymentID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[deploymentID]; ok {
		return ch
	}
	ch := &Channel{deploymentID: deploymentID, log: h.log.WithField("deployment_id", deploymentID)}
	h.channels[deploymentID] = ch
	return ch
}

func (h *Hub) channel(deploymentID string) (*Channel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[deploymentID]
	return ch, ok
}

// Subscribe registers onLine on a live channel. Every line already buffered is
// replayed to onLine before Subscribe returns; later lines follow in order.
// It returns ErrChannelNotFound when nothing is being built for deploymentID.
func (h *Hub) Subscribe(deploymentID string, onLine func(line string)) (*Subscription, error) {
	ch, ok := h.channel(deploymentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, deploymentID)
	}
	return ch.Subscribe(onLine)
}

// Unsubscribe is a convenience for sub.Unsubscribe.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (h *Hub) Publish(deploymentID, line string) error {
	ch, ok := h.channel(deploymentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, deploymentID)
	}
	ch.Publish(line)
	return nil
}

// GetBufferedLogLines returns a copy of the lines buffered so far, or nil when
// no channel is open.
func (h *Hub) GetBufferedLogLines(deploymentID string) []string {
	ch, ok := h.channel(deploymentID)
	if !ok {
		return nil
	}
	return ch.Lines()
}

// Close drops the channel and its buffer and ends every subscription. Call it
// only after the transcript has been persisted.
func (h *Hub) Close(deploymentID string) {
	h.mu.Lock()
	ch, ok := h.channels[deploymentID]
	delete(h.channels, deploymentID)
	h.mu.Unlock()
	if ok {
		ch.close()
	}
}

// Open reports whether a live channel exists for deploymentID.
func (h *Hub) Open(deploymentID string) bool {
	_, ok := h.channel(deploymentID)
	return ok
}

type Channel struct {
	deploymentID string
	log          *logrus.Entry

	// pubMu keeps concurrent publishers from interleaving append and delivery.
	pubMu sync.Mutex

	mu     sync.Mutex
	lines  []string
	subs   []*Subscription
	closed bool
	nextID uint64
	stale  atomic.Bool
}

func (c *Channel) DeploymentID() string {
	return c.deploymentID
}

// Publish appends line to the buffer and hands it to every active subscriber
// in registration order. A closed channel drops the line.
func (c *Channel) Publish(line string) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lines = append(c.lines, line)
	if c.stale.Swap(false) {
		c.pruneLocked()
	}
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(line)
	}
}

// Subscribe must not be called from inside one of this channel's callbacks.
func (c *Channel) Subscribe(onLine func(line string)) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, c.deploymentID)
	}

	c.nextID++
	sub := &Subscription{
		id:      c.nextID,
		onLine:  onLine,
		channel: c,
		done:    make(chan struct{}),
	}
	sub.active.Store(true)
	metrics.AddLogSubscribers(1)

	// Replay under the lock: the next Publish cannot append until the
	// history has been handed over, so there is no gap and no duplicate.
	for _, line := range c.lines {
		sub.deliver(line)
	}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *Channel) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Channel) pruneLocked() {
	kept := c.subs[:0]
	for _, sub := range c.subs {
		if sub.active.Load() {
			kept = append(kept, sub)
		}
	}
	for i := len(kept); i < len(c.subs); i++ {
		c.subs[i] = nil
	}
	c.subs = kept
}

func (c *Channel) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.lines = nil
	c.closed = true
	c.mu.Unlock()

	for _, sub := range subs {
		sub.release()
	}
}

// Subscription is one viewer's registration on a Channel.
type Subscription struct {
	id       uint64
	onLine   func(line string)
	channel  *Channel
	active   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
}

// Done is closed once no further lines will be delivered, either because the
// build finished or because Unsubscribe was called.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Unsubscribe stops delivery without taking the channel lock, so it is safe
// from any goroutine, including from within the subscriber's own callback.
func (s *Subscription) Unsubscribe() {
	if s.release() {
		s.channel.stale.Store(true)
	}
}

func (s *Subscription) release() bool {
	released := s.active.CompareAndSwap(true, false)
	if released {
		metrics.AddLogSubscribers(-1)
	}
	s.doneOnce.Do(func() { close(s.done) })
	return released
}

func (s *Subscription) deliver(line string) {
	if !s.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.channel.log.Errorf("❌ Log subscriber %d panicked: %v", s.id, r)
		}
	}()
	s.onLine(line)
}
