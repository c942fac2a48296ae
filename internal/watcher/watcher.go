package watcher

import (
	"context"
	"log"
	"sync"
	"time"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/remote"
	"lesson-plan-agent/internal/telemetry"
)

// Event is one observation from a polling loop. Exactly one terminal event
// (Ready, Failed, or a timeout failure) is emitted per session, after which
// the channel closes.
type Event struct {
	SessionID  string
	Status     string
	NavigateTo string
	ResultIDs  []string
	Err        error
	TimedOut   bool
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.TimedOut || e.Err != nil || models.Terminal(e.Status)
}

// Querier is the status-poll surface the watcher needs from the API client.
type Querier interface {
	QuerySession(ctx context.Context, sessionID string) (*remote.SessionStatus, error)
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Watcher polls job sessions that have no realtime push channel (the voice
// pipeline). At most one loop runs per session id.
type Watcher struct {
	api Querier

	mu     sync.Mutex
	active map[string]*loop
}

// New builds a watcher over the given querier.
func New(api Querier) *Watcher {
	return &Watcher{api: api, active: make(map[string]*loop)}
}

// Watch starts polling a session every interval until a terminal status or
// the overall timeout. Starting a second watch for the same session cancels
// the previous loop first, so duplicate watches never double the traffic or
// the terminal events; the superseded loop's channel closes without one.
func (w *Watcher) Watch(ctx context.Context, sessionID string, interval, timeout time.Duration) <-chan Event {
	w.mu.Lock()
	prev := w.active[sessionID]
	if prev != nil {
		prev.cancel()
	}
	w.mu.Unlock()
	if prev != nil {
		<-prev.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	lp := &loop{cancel: cancel, done: make(chan struct{})}
	w.mu.Lock()
	w.active[sessionID] = lp
	w.mu.Unlock()

	events := make(chan Event, 8)
	telemetry.ActivePolls.Inc()
	go w.run(runCtx, sessionID, lp, interval, timeout, events)
	return events
}

// Stop cancels the loop for a session. Idempotent; stopping an unknown or
// already stopped session is a no-op. The loop's channel closes without a
// terminal event.
func (w *Watcher) Stop(sessionID string) {
	w.mu.Lock()
	lp := w.active[sessionID]
	w.mu.Unlock()
	if lp != nil {
		lp.cancel()
		<-lp.done
	}
}

func (w *Watcher) run(ctx context.Context, sessionID string, lp *loop, interval, timeout time.Duration, events chan<- Event) {
	defer func() {
		w.mu.Lock()
		if w.active[sessionID] == lp {
			delete(w.active, sessionID)
		}
		w.mu.Unlock()
		close(events)
		close(lp.done)
		telemetry.ActivePolls.Dec()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	lastStatus := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			events <- Event{SessionID: sessionID, Status: models.StatusFailed, TimedOut: true}
			return
		case <-ticker.C:
		}

		telemetry.PollTicks.Inc()
		st, err := w.api.QuerySession(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient: log and keep polling until the deadline.
			telemetry.PollErrors.Inc()
			log.Printf("watcher: poll %s: %v", sessionID, err)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		switch st.Status {
		case models.StatusReady:
			events <- Event{
				SessionID:  sessionID,
				Status:     models.StatusReady,
				NavigateTo: st.NavigateTo,
				ResultIDs:  st.ResultIDs,
			}
			return
		case "error", models.StatusFailed:
			ev := Event{SessionID: sessionID, Status: models.StatusFailed}
			if st.Error != "" {
				ev.Err = &PollFailure{SessionID: sessionID, Message: st.Error}
			}
			events <- ev
			return
		default:
			if st.Status != lastStatus {
				lastStatus = st.Status
				// Progress events are best effort; a slow consumer only
				// misses intermediate states, never the terminal one.
				if len(events) < cap(events)-1 {
					events <- Event{SessionID: sessionID, Status: st.Status}
				}
			}
		}
	}
}

// PollFailure is a server-reported job failure observed while polling.
type PollFailure struct {
	SessionID string
	Message   string
}

func (e *PollFailure) Error() string {
	return "session " + e.SessionID + ": " + e.Message
}
