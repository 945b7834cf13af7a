package livechannel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svarunid/voiceflow/types"
)

func drain(ch <-chan Envelope) []Envelope {
	var out []Envelope
	for env := range ch {
		out = append(out, env)
	}
	return out
}

func testStart() Envelope {
	return Start(&types.Persona{ID: "p1", FullName: "Meera Joshi", DebtAmount: 500000, DueDate: "2026-06-30"})
}

func TestObserverReceivesFullSequence(t *testing.T) {
	c := NewChannel("run-1")

	ch, err := c.Attach()
	require.NoError(t, err)

	c.Publish(testStart())
	c.Publish(Message(types.Turn{Role: types.RoleAgent, Text: "Hello, this is Diane."}))
	c.Publish(Message(types.Turn{Role: types.RolePersona, Text: "Who is this?"}))
	c.Publish(End(&types.Metric{Politeness: types.PolitenessPolite, NegotiationLevel: types.NegotiationSoft}, "good call"))

	got := drain(ch)
	require.Len(t, got, 4)
	assert.Equal(t, EnvelopeStart, got[0].Type)
	assert.Equal(t, "Meera Joshi", got[0].Persona.FullName)
	assert.Equal(t, EnvelopeMessage, got[1].Type)
	assert.Equal(t, types.RoleAgent, got[1].Role)
	assert.Equal(t, EnvelopeEnd, got[3].Type)
	assert.Equal(t, types.PolitenessPolite, got[3].Metric.Politeness)
}

func TestLateAttachReplaysBacklog(t *testing.T) {
	c := NewChannel("run-1")

	c.Publish(testStart())
	c.Publish(Message(types.Turn{Role: types.RoleAgent, Text: "turn 1"}))
	c.Publish(Message(types.Turn{Role: types.RolePersona, Text: "turn 2"}))

	ch, err := c.Attach()
	require.NoError(t, err)

	c.Publish(Error("provider exploded"))

	got := drain(ch)
	require.Len(t, got, 4)
	assert.Equal(t, "turn 1", got[1].Text)
	assert.Equal(t, "turn 2", got[2].Text)
	assert.Equal(t, EnvelopeError, got[3].Type)
	assert.Equal(t, "provider exploded", got[3].Message)
}

func TestAttachAfterTerminalReplaysAndCloses(t *testing.T) {
	c := NewChannel("run-1")
	c.Publish(testStart())
	c.Publish(End(nil, ""))

	ch, err := c.Attach()
	require.NoError(t, err)

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, EnvelopeEnd, got[1].Type)
	assert.Nil(t, got[1].Metric)
}

func TestSecondObserverRejected(t *testing.T) {
	c := NewChannel("run-1")

	_, err := c.Attach()
	require.NoError(t, err)

	_, err = c.Attach()
	assert.ErrorIs(t, err, ErrObserverAttached)
}

func TestDetachDoesNotStopPublishing(t *testing.T) {
	c := NewChannel("run-1")

	ch, err := c.Attach()
	require.NoError(t, err)

	c.Publish(testStart())
	c.Detach(ch)

	// The run keeps producing after the observer is gone.
	c.Publish(Message(types.Turn{Role: types.RoleAgent, Text: "still running"}))
	c.Publish(End(nil, ""))

	backlog := c.Backlog()
	require.Len(t, backlog, 3)
	assert.Equal(t, "still running", backlog[1].Text)

	// A re-attach sees everything, including turns published while detached.
	ch2, err := c.Attach()
	require.NoError(t, err)
	assert.Len(t, drain(ch2), 3)
}

func TestPublishAfterTerminalIsNoOp(t *testing.T) {
	c := NewChannel("run-1")
	c.Publish(End(nil, ""))
	c.Publish(Message(types.Turn{Role: types.RoleAgent, Text: "too late"}))

	assert.Len(t, c.Backlog(), 1)
}

func TestSlowObserverIsDetached(t *testing.T) {
	c := NewChannel("run-1")

	ch, err := c.Attach()
	require.NoError(t, err)

	// Never drained; overflow the buffer to force detach.
	for i := 0; i < subscriberBuffer+8; i++ {
		c.Publish(Message(types.Turn{Role: types.RoleAgent, Text: "x"}))
	}

	// The stream was closed on overflow, but the backlog kept every envelope.
	got := drain(ch)
	assert.Len(t, got, subscriberBuffer)
	assert.Len(t, c.Backlog(), subscriberBuffer+8)

	// The slot is free again.
	_, err = c.Attach()
	assert.NoError(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	ch := r.Create("run-1")
	require.NotNil(t, ch)

	got, err := r.Get("run-1")
	require.NoError(t, err)
	assert.Same(t, ch, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrChannelNotFound)

	r.Remove("run-1")
	_, err = r.Get("run-1")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}
