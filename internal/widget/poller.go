// Package widget is the agent-side half of the suggestion protocol: it submits
// a ticket conversation to the relay and polls until the bot answers.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State of one suggestion request.
type State string

const (
	StateIdle     State = "idle"
	StateSending  State = "sending"
	StatePolling  State = "polling"
	StateResolved State = "resolved"
	StateTimedOut State = "timed_out"
	StateFailed   State = "failed"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateTimedOut || s == StateFailed
}

const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 60
)

var ErrTimeout = errors.New("timeout waiting for suggestion")

// Message is the relay's view of an upstream message.
type Message struct {
	ID   string `json:"_id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// RoleBot marks messages authored by the automated agent.
const RoleBot = "appMaker"

// Relay is the transport the poller drives. *Client implements it over HTTP.
type Relay interface {
	Send(ctx context.Context, ticketID, conversation string) (messageID string, err error)
	Latest(ctx context.Context, ticketID, after string) (*Message, error)
}

// Event is one state transition. Text is set on Resolved, Err on TimedOut/Failed.
type Event struct {
	State   State
	Attempt int
	Text    string
	Err     error
}

type Poller struct {
	Relay       Relay
	Interval    time.Duration
	MaxAttempts int
	// OnEvent observes transitions. Called on the Run goroutine.
	OnEvent func(Event)
}

// Run sends conversation for ticketID and polls for the bot's reply.
//
// Fetches never overlap: the next one is scheduled only after the previous
// returns, so a slow relay stretches the loop instead of stacking requests.
// At most MaxAttempts fetches are made. Any error ends the loop at once.
// Cancelling ctx stops the loop without a terminal event and returns ctx.Err().
func (p *Poller) Run(ctx context.Context, ticketID, conversation string) (string, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	p.emit(Event{State: StateSending})
	messageID, err := p.Relay.Send(ctx, ticketID, conversation)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", p.fail(0, fmt.Errorf("send conversation: %w", err))
	}

	p.emit(Event{State: StatePolling})
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}

		msg, err := p.Relay.Latest(ctx, ticketID, messageID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", p.fail(attempt, fmt.Errorf("poll attempt %d: %w", attempt, err))
		}
		if msg != nil && msg.Role == RoleBot {
			p.emit(Event{State: StateResolved, Attempt: attempt, Text: msg.Text})
			return msg.Text, nil
		}
		slog.Debug("no suggestion yet", "ticketId", ticketID, "attempt", attempt)
		timer.Reset(interval)
	}

	p.emit(Event{State: StateTimedOut, Attempt: maxAttempts, Err: ErrTimeout})
	return "", ErrTimeout
}

func (p *Poller) fail(attempt int, err error) error {
	p.emit(Event{State: StateFailed, Attempt: attempt, Err: err})
	return err
}

func (p *Poller) emit(e Event) {
	if p.OnEvent != nil {
		p.OnEvent(e)
	}
}
