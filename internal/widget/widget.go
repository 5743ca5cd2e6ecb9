package widget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// View is what the sidebar should show after an event.
type View struct {
	Event
	// Retry is true when the view should offer a "Generate Response" button.
	Retry bool
	// SetupRequired is true when the relay has no credentials for this install.
	SetupRequired bool
}

// Result is the outcome of one Generate call.
type Result struct {
	Text  string
	State State
	Err   error
}

// Widget runs at most one suggestion loop at a time per sidebar instance.
type Widget struct {
	Relay       Relay
	Interval    time.Duration
	MaxAttempts int
	// Render receives views for the active loop only; superseded loops are silent.
	Render func(View)

	mu      sync.Mutex
	gen     uint64
	loopGen uint64 // generation of the running loop
	// rendering is the loop generation currently inside Render, 0 when none.
	rendering uint64
	cancel    context.CancelFunc
	done      chan struct{}
}

// Generate cancels any running loop, then starts a new one for the ticket. The
// returned channel yields the outcome once; a superseded loop yields
// context.Canceled.
func (w *Widget) Generate(ctx context.Context, ticketID string, snapshot Snapshot) <-chan Result {
	w.mu.Lock()
	w.stopLocked()
	w.gen++
	gen := w.gen
	w.loopGen = gen
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	p := &Poller{
		Relay:       w.Relay,
		Interval:    w.Interval,
		MaxAttempts: w.MaxAttempts,
		OnEvent: func(e Event) {
			w.render(gen, e)
		},
	}
	conversation := snapshot.Text()

	out := make(chan Result, 1)
	go func() {
		defer close(done)
		defer cancel()
		text, err := p.Run(loopCtx, ticketID, conversation)
		out <- result(text, err)
	}()
	return out
}

// OnConversationChanged applies the auto-trigger rule: generate when the
// customer spoke last, otherwise show the idle view with a generate button.
// It returns nil when no loop was started.
func (w *Widget) OnConversationChanged(ctx context.Context, ticketID string, snapshot Snapshot) <-chan Result {
	if snapshot.LastFromEndUser() {
		return w.Generate(ctx, ticketID, snapshot)
	}
	w.mu.Lock()
	w.stopLocked()
	w.gen++
	gen := w.gen
	w.mu.Unlock()
	w.render(gen, Event{State: StateIdle})
	return nil
}

// Cancel stops the active loop, if any, and waits for it to exit.
func (w *Widget) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

// stopLocked cancels the running loop and waits for it to exit. Caller holds
// mu; it is released during the wait so the loop can finish, and the check
// repeats in case another Generate started a loop meanwhile.
//
// A loop that is inside Render is not waited for: Render may itself call
// Cancel or Generate, and the loop cannot exit until Render returns. Once
// cancelled it makes no further requests and renders nothing.
func (w *Widget) stopLocked() {
	for w.cancel != nil {
		w.gen++
		w.cancel()
		w.cancel = nil
		done := w.done
		w.done = nil
		if w.rendering != 0 && w.rendering == w.loopGen {
			return
		}
		w.mu.Unlock()
		<-done
		w.mu.Lock()
	}
}

func (w *Widget) render(gen uint64, e Event) {
	if w.Render == nil {
		return
	}
	w.mu.Lock()
	current := gen == w.gen
	inLoop := current && gen == w.loopGen && w.cancel != nil
	if inLoop {
		w.rendering = gen
	}
	w.mu.Unlock()
	if !current {
		return
	}
	if inLoop {
		defer func() {
			w.mu.Lock()
			if w.rendering == gen {
				w.rendering = 0
			}
			w.mu.Unlock()
		}()
	}
	v := View{Event: e}
	switch e.State {
	case StateIdle, StateTimedOut:
		v.Retry = true
	case StateFailed:
		v.Retry = true
		v.SetupRequired = errors.Is(e.Err, ErrSetupRequired)
	}
	if e.Err != nil {
		slog.Warn("suggestion failed", "state", e.State, "attempt", e.Attempt, "error", e.Err)
	}
	w.Render(v)
}

func result(text string, err error) Result {
	switch {
	case err == nil:
		return Result{Text: text, State: StateResolved}
	case errors.Is(err, ErrTimeout):
		return Result{State: StateTimedOut, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result{State: StateIdle, Err: err}
	default:
		return Result{State: StateFailed, Err: err}
	}
}
