package analysis

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/csheth/nexus/internal/remote"
)

// Sender is the transport the controller submits through.
type Sender interface {
	Send(ctx context.Context, endpoint remote.Endpoint, method string, payload remote.Payload) (remote.Outcome, error)
}

// Request binds the selected document to one in-flight submission.
type Request struct {
	Token        string
	Document     Document
	DispatchedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// Completion is the interpreted outcome of a Request, not yet applied.
type Completion struct {
	Token    string
	Result   *Result
	Failure  *Failure
	Duration time.Duration
}

// Controller owns the lifecycle of one document analysis at a time. It is
// constructed per session and discarded with Abandon when the session ends.
//
// All methods are safe for concurrent use. Event-loop callers use Dispatch,
// Execute and Finish separately so that only Execute blocks; other callers
// use Submit.
type Controller struct {
	sender Sender
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	doc       *Document
	result    *Result
	failure   *Failure
	active    *Request
	observers []func(Snapshot)
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController returns an Idle controller.
func NewController(sender Sender, opts ...Option) *Controller {
	c := &Controller{
		sender: sender,
		logger: slog.Default(),
		now:    time.Now,
		state:  Idle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn to be called with a fresh snapshot after every
// transition. Observers run outside the controller's lock.
func (c *Controller) Subscribe(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectFile holds doc for the next submission and clears any previous result.
// It is rejected with ErrBusy while a submission is in flight so the document
// of that submission cannot change underneath it.
func (c *Controller) SelectFile(doc Document) error {
	c.mu.Lock()
	if c.state == Submitting {
		c.mu.Unlock()
		return ErrBusy
	}
	held := doc
	c.doc = &held
	c.result = nil
	c.failure = nil
	c.state = FileSelected
	snap, observers := c.transitionLocked()
	c.mu.Unlock()

	c.logger.Debug("document selected", "name", doc.Name, "size", doc.Size, "pages", doc.Pages)
	notify(observers, snap)
	return nil
}

// Reset drops the document and any result and returns to Idle. It is rejected
// with ErrBusy while a submission is in flight.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state == Submitting {
		c.mu.Unlock()
		return ErrBusy
	}
	c.clearLocked()
	snap, observers := c.transitionLocked()
	c.mu.Unlock()

	notify(observers, snap)
	return nil
}

// Abandon ends the session: any in-flight request is cancelled and its late
// completion will be discarded, and the controller returns to Idle.
func (c *Controller) Abandon() {
	c.mu.Lock()
	if c.active != nil {
		c.logger.Info("abandoning in-flight analysis", "token", c.active.Token)
		c.active.cancel()
		c.active = nil
	}
	c.clearLocked()
	snap, observers := c.transitionLocked()
	c.mu.Unlock()

	notify(observers, snap)
}

// Submit sends the selected document for analysis and blocks until the
// request completes. It returns nil on success, the *Failure on failure,
// ErrSuperseded when the controller moved on in the meantime, or one of
// ErrBusy, ErrNoDocument, ErrNotReady when the submission was not started.
func (c *Controller) Submit(ctx context.Context) error {
	req, err := c.Dispatch()
	if err != nil {
		return err
	}
	completion := c.Execute(ctx, req)
	if !c.Finish(completion) {
		return ErrSuperseded
	}
	if completion.Failure != nil {
		return completion.Failure
	}
	return nil
}

// Dispatch moves a FileSelected controller to Submitting and returns the
// request to execute. No network activity happens here.
func (c *Controller) Dispatch() (*Request, error) {
	c.mu.Lock()
	switch c.state {
	case Submitting:
		c.mu.Unlock()
		return nil, ErrBusy
	case Idle:
		c.mu.Unlock()
		return nil, ErrNoDocument
	case Succeeded, Failed:
		c.mu.Unlock()
		return nil, ErrNotReady
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := &Request{
		Token:        uuid.NewString(),
		Document:     *c.doc,
		DispatchedAt: c.now(),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.active = req
	c.state = Submitting
	snap, observers := c.transitionLocked()
	c.mu.Unlock()

	c.logger.Info("analysis dispatched", "token", req.Token, "name", req.Document.Name, "size", req.Document.Size)
	notify(observers, snap)
	return req, nil
}

// Execute performs the transport call for req and interprets the outcome. It
// does not touch controller state; pass the result to Finish.
func (c *Controller) Execute(ctx context.Context, req *Request) Completion {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if req.ctx != nil {
		stop := context.AfterFunc(req.ctx, cancel)
		defer stop()
	}

	payload := remote.Multipart{Field: "file", Filename: req.Document.Name, Data: req.Document.Data}
	outcome, err := c.sender.Send(ctx, remote.EndpointAnalyze, http.MethodPost, payload)
	completion := Completion{Token: req.Token, Duration: c.now().Sub(req.DispatchedAt)}
	if err != nil {
		completion.Failure = networkFailure(err)
		return completion
	}
	completion.Result, completion.Failure = interpret(outcome, req.Document.Name)
	return completion
}

// Finish applies a completion if its request is still the active one. Late
// completions of abandoned requests are dropped and Finish returns false.
func (c *Controller) Finish(completion Completion) bool {
	c.mu.Lock()
	if c.active == nil || c.active.Token != completion.Token {
		c.mu.Unlock()
		c.logger.Debug("discarding stale analysis completion", "token", completion.Token)
		return false
	}
	c.active.cancel()
	c.active = nil
	if completion.Failure != nil {
		c.state = Failed
		c.failure = completion.Failure
		c.result = nil
	} else {
		c.state = Succeeded
		c.result = completion.Result
		c.failure = nil
	}
	snap, observers := c.transitionLocked()
	c.mu.Unlock()

	if completion.Failure != nil {
		c.logger.Warn("analysis failed", "token", completion.Token, "kind", completion.Failure.Kind,
			"status", completion.Failure.Status, "duration", completion.Duration, "error", completion.Failure.Message)
	} else {
		c.logger.Info("analysis succeeded", "token", completion.Token, "duration", completion.Duration)
	}
	notify(observers, snap)
	return true
}

func (c *Controller) clearLocked() {
	c.doc = nil
	c.result = nil
	c.failure = nil
	c.state = Idle
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{State: c.state}
	if c.doc != nil {
		doc := *c.doc
		snap.Document = &doc
	}
	if c.result != nil {
		snap.Result = &Result{Analysis: cloneTree(c.result.Analysis), Filename: c.result.Filename}
	}
	if c.failure != nil {
		failure := *c.failure
		snap.Failure = &failure
	}
	if c.active != nil {
		snap.RequestID = c.active.Token
		snap.SubmittedAt = c.active.DispatchedAt
	}
	return snap
}

func (c *Controller) transitionLocked() (Snapshot, []func(Snapshot)) {
	if len(c.observers) == 0 {
		return Snapshot{}, nil
	}
	return c.snapshotLocked(), slices.Clone(c.observers)
}

// cloneTree copies decoded JSON so snapshots never share maps or slices.
func cloneTree(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return cloneTree(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}
