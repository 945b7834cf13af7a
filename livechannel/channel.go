// Package livechannel implements the per-run streaming transport that
// republishes each produced turn to an observing client in real time.
//
// A run owns exactly one channel. The protocol is a strict sequence of
// typed envelopes: one start, one message per turn in production order,
// and exactly one terminal end or error envelope, after which the channel
// closes. The observer never sends data back.
//
// Observation is decoupled from execution: envelopes are buffered in a
// backlog so an observer attaching mid-run replays everything produced so
// far, and a publish after the observer detaches is a no-op for the
// observer while the run carries on.
package livechannel

import (
	"errors"
	"sync"

	"github.com/svarunid/voiceflow/logger"
	"github.com/svarunid/voiceflow/types"
)

// subscriberBuffer is the channel buffer headroom for an attached observer.
// An observer that falls this far behind is treated as disconnected.
const subscriberBuffer = 64

// EnvelopeType discriminates the typed envelopes on a channel.
type EnvelopeType string

const (
	EnvelopeStart   EnvelopeType = "start"
	EnvelopeMessage EnvelopeType = "message"
	EnvelopeEnd     EnvelopeType = "end"
	EnvelopeError   EnvelopeType = "error"
)

// PersonaRef is the persona identity echoed in the start envelope.
type PersonaRef struct {
	ID         string `json:"id"`
	FullName   string `json:"full_name"`
	DebtAmount int64  `json:"debt_amount"`
	DueDate    string `json:"due_date"`
}

// Envelope is one frame on the live channel. Exactly the fields relevant
// to its Type are populated.
type Envelope struct {
	Type EnvelopeType `json:"type"`

	// start
	Persona *PersonaRef `json:"persona,omitempty"`

	// message
	Role types.Role `json:"role,omitempty"`
	Text string     `json:"text,omitempty"`

	// end
	Metric   *types.Metric `json:"metric,omitempty"`
	Feedback string        `json:"feedback,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// terminal reports whether the envelope closes the channel.
func (e Envelope) terminal() bool {
	return e.Type == EnvelopeEnd || e.Type == EnvelopeError
}

// Start builds the start envelope for a run.
func Start(p *types.Persona) Envelope {
	return Envelope{
		Type: EnvelopeStart,
		Persona: &PersonaRef{
			ID:         p.ID,
			FullName:   p.FullName,
			DebtAmount: p.DebtAmount,
			DueDate:    p.DueDate,
		},
	}
}

// Message builds the message envelope for a produced turn.
func Message(turn types.Turn) Envelope {
	return Envelope{Type: EnvelopeMessage, Role: turn.Role, Text: turn.Text}
}

// End builds the success terminal envelope. Metric may be nil when
// validation errored on an otherwise completed run.
func End(metric *types.Metric, feedback string) Envelope {
	return Envelope{Type: EnvelopeEnd, Metric: metric, Feedback: feedback}
}

// Error builds the failure terminal envelope.
func Error(reason string) Envelope {
	return Envelope{Type: EnvelopeError, Message: reason}
}

// ErrObserverAttached is returned when a second observer tries to attach
// to a run that already has one.
var ErrObserverAttached = errors.New("an observer is already attached to this run")

// ErrChannelNotFound is returned by the registry for unknown run IDs.
var ErrChannelNotFound = errors.New("no live channel for run")

// Channel is the one-way push channel for a single run.
// Publish is called only by the run's simulator goroutine; Attach/Detach
// are called from the transport layer.
type Channel struct {
	runID string

	mu       sync.Mutex
	backlog  []Envelope
	sub      chan Envelope
	terminal bool
}

// NewChannel creates a channel for the given run.
func NewChannel(runID string) *Channel {
	return &Channel{runID: runID}
}

// Publish appends an envelope to the backlog and forwards it to the
// attached observer, if any. Publishing after the terminal envelope is a
// no-op, as is publishing with no observer attached.
func (c *Channel) Publish(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminal {
		return
	}

	c.backlog = append(c.backlog, env)
	if env.terminal() {
		c.terminal = true
	}

	if c.sub == nil {
		return
	}

	select {
	case c.sub <- env:
	default:
		// Observer stopped draining; treat it as disconnected.
		logger.Warn("Live channel observer too slow, detaching", "run_id", c.runID)
		close(c.sub)
		c.sub = nil
		return
	}

	if c.terminal {
		close(c.sub)
		c.sub = nil
	}
}

// Attach registers the single observer and returns its envelope stream.
// The backlog produced so far is replayed first, in order. The returned
// channel is closed after the terminal envelope.
func (c *Channel) Attach() (<-chan Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		return nil, ErrObserverAttached
	}

	ch := make(chan Envelope, len(c.backlog)+subscriberBuffer)
	for _, env := range c.backlog {
		ch <- env
	}

	if c.terminal {
		close(ch)
		return ch, nil
	}

	c.sub = ch
	return ch, nil
}

// Detach removes the observer. The run itself is unaffected; subsequent
// publishes keep filling the backlog.
func (c *Channel) Detach(ch <-chan Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil && c.sub == ch {
		close(c.sub)
		c.sub = nil
	}
}

// Backlog returns a copy of every envelope published so far.
func (c *Channel) Backlog() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Envelope, len(c.backlog))
	copy(out, c.backlog)
	return out
}

// Registry tracks the live channel of every known run.
// Channels for concurrent runs are fully independent.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*Channel)}
}

// Create makes and registers the channel for a run.
func (r *Registry) Create(runID string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := NewChannel(runID)
	r.channels[runID] = ch
	return ch
}

// Get returns the channel for a run.
func (r *Registry) Get(runID string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[runID]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// Remove drops a run's channel from the registry.
func (r *Registry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, runID)
}
