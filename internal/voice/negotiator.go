package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lesson-plan-agent/internal/models"
	"lesson-plan-agent/internal/remote"
	"lesson-plan-agent/internal/watcher"
)

// ErrNoSession is returned when an operation needs an active voice session.
var ErrNoSession = errors.New("no active voice session")

// ErrMissingFields is returned by Execute while required fields are still
// unfilled.
var ErrMissingFields = errors.New("required fields still missing")

// ErrBadField is returned for an input that does not fit the field's type.
var ErrBadField = errors.New("invalid field input")

// Backend is the surface the negotiator needs from the API client.
type Backend interface {
	ClassifyIntent(ctx context.Context, command, teacherID string) (*remote.IntentResponse, error)
	ExecuteIntent(ctx context.Context, intent models.Intent, teacherID string) (*remote.ExecuteResponse, error)
}

// Negotiator drives a spoken command from raw text to a launched job:
// classify, collect missing fields from the user, execute, poll. One
// session is active at a time, mirroring the modal voice panel.
type Negotiator struct {
	api       Backend
	watch     *watcher.Watcher
	teacherID string
	interval  time.Duration
	timeout   time.Duration

	mu   sync.Mutex
	sess *models.VoiceSession
}

// New builds a negotiator for one authenticated teacher.
func New(api Backend, w *watcher.Watcher, teacherID string, interval, timeout time.Duration) *Negotiator {
	return &Negotiator{
		api:       api,
		watch:     w,
		teacherID: teacherID,
		interval:  interval,
		timeout:   timeout,
	}
}

// Begin classifies a raw command and opens a session. A classifier error
// keeps no partial state; the caller sees the raw error and may retry.
// Beginning while a previous session is polling cancels that poll.
func (n *Negotiator) Begin(ctx context.Context, command string) (models.VoiceSession, error) {
	n.Close()

	resp, err := n.api.ClassifyIntent(ctx, command, n.teacherID)
	if err != nil {
		return models.VoiceSession{}, fmt.Errorf("classify intent: %w", err)
	}

	sess := &models.VoiceSession{
		RawCommand:    command,
		Intent:        resp.Intent,
		MissingFields: append([]string(nil), resp.MissingFields...),
		State:         models.VoiceReady,
	}
	if len(sess.MissingFields) > 0 {
		sess.State = models.VoiceNeedsInput
	}

	n.mu.Lock()
	n.sess = sess
	snap := *sess
	n.mu.Unlock()
	return snap, nil
}

// Provide merges one user-supplied field into the resolved intent. The
// classifier is not re-invoked; field inputs only fill gaps.
func (n *Negotiator) Provide(field string, value any) (models.VoiceSession, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sess == nil {
		return models.VoiceSession{}, ErrNoSession
	}
	if err := setIntentField(&n.sess.Intent, field, value); err != nil {
		return *n.sess, err
	}
	n.sess.MissingFields = remove(n.sess.MissingFields, field)
	if len(n.sess.MissingFields) == 0 && n.sess.State == models.VoiceNeedsInput {
		n.sess.State = models.VoiceReady
	}
	return *n.sess, nil
}

// Execute launches the job for a fully resolved intent and starts polling
// its session. Terminal poll events update the session state; success
// records the navigation target, failure keeps the original command so the
// user can return to parsing.
func (n *Negotiator) Execute(ctx context.Context) (models.VoiceSession, error) {
	n.mu.Lock()
	if n.sess == nil {
		n.mu.Unlock()
		return models.VoiceSession{}, ErrNoSession
	}
	if len(n.sess.MissingFields) > 0 {
		snap := *n.sess
		n.mu.Unlock()
		return snap, ErrMissingFields
	}
	// The classifier's notion of "complete" and the launcher's required
	// field set must agree before we spend a network call.
	if missing := n.sess.Intent.Params().MissingParams(n.sess.Intent.Kind()); len(missing) > 0 {
		n.sess.MissingFields = missing
		n.sess.State = models.VoiceNeedsInput
		snap := *n.sess
		n.mu.Unlock()
		return snap, ErrMissingFields
	}
	intent := n.sess.Intent
	n.sess.State = models.VoiceSubmitted
	n.mu.Unlock()

	resp, err := n.api.ExecuteIntent(ctx, intent, n.teacherID)
	if err != nil {
		n.mu.Lock()
		if n.sess != nil {
			n.sess.State = models.VoiceFailed
			n.sess.LastError = err.Error()
		}
		snap := n.snapshotLocked()
		n.mu.Unlock()
		return snap, fmt.Errorf("execute voice command: %w", err)
	}

	n.mu.Lock()
	sess := n.sess
	if sess == nil {
		n.mu.Unlock()
		return models.VoiceSession{}, ErrNoSession
	}
	sess.JobSessionID = resp.SessionID
	sess.State = models.VoicePolling
	snap := *sess
	n.mu.Unlock()

	events := n.watch.Watch(ctx, resp.SessionID, n.interval, n.timeout)
	go n.observe(sess, events)
	return snap, nil
}

// observe folds poll events into the session until the stream closes.
func (n *Negotiator) observe(sess *models.VoiceSession, events <-chan watcher.Event) {
	for ev := range events {
		if !ev.Terminal() {
			continue
		}
		n.mu.Lock()
		if n.sess == sess {
			switch {
			case ev.Status == models.StatusReady:
				sess.State = models.VoiceSucceeded
				sess.NavigateTo = ev.NavigateTo
			case ev.TimedOut:
				sess.State = models.VoiceFailed
				sess.LastError = "timed out waiting for generation"
			default:
				sess.State = models.VoiceFailed
				if ev.Err != nil {
					sess.LastError = ev.Err.Error()
				} else {
					sess.LastError = "generation failed"
				}
			}
		}
		n.mu.Unlock()
	}
}

// Retry re-runs classification with the session's original command after a
// failure.
func (n *Negotiator) Retry(ctx context.Context) (models.VoiceSession, error) {
	n.mu.Lock()
	if n.sess == nil {
		n.mu.Unlock()
		return models.VoiceSession{}, ErrNoSession
	}
	command := n.sess.RawCommand
	n.mu.Unlock()
	return n.Begin(ctx, command)
}

// Session returns a snapshot of the active session.
func (n *Negotiator) Session() (models.VoiceSession, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sess == nil {
		return models.VoiceSession{}, false
	}
	return *n.sess, true
}

// Close discards the active session, cancelling its poll if one is running.
// Closing with no session is a no-op.
func (n *Negotiator) Close() {
	n.mu.Lock()
	sess := n.sess
	n.sess = nil
	n.mu.Unlock()
	if sess != nil && sess.JobSessionID != "" {
		n.watch.Stop(sess.JobSessionID)
	}
}

func (n *Negotiator) snapshotLocked() models.VoiceSession {
	if n.sess == nil {
		return models.VoiceSession{}
	}
	return *n.sess
}

func remove(fields []string, field string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != field {
			out = append(out, f)
		}
	}
	return out
}
