// Package submission runs the encrypted-value submission pipeline.
//
// A Coordinator owns one state machine per (record, category) key:
//
//	Idle -> Pending -> Succeeded(tx) | Failed(reason) -> Idle
//
// Submit validates the request against its category schema, encodes the
// value, and makes exactly one chain write per accepted submission. A key
// that is Pending rejects further submits outright; different keys never
// wait on each other. Dispatched writes cannot be cancelled.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakura-kun-88/startup-compass-89/pkg/category"
	"github.com/sakura-kun-88/startup-compass-89/pkg/chain"
	"github.com/sakura-kun-88/startup-compass-89/pkg/codec"
	"github.com/sakura-kun-88/startup-compass-89/pkg/identity"
)

// Observer is told about every transition, in order per key.
type Observer interface {
	OnTransition(ctx context.Context, t Transition) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, t Transition) error

// OnTransition calls f.
func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) error { return f(ctx, t) }

// Tracker instruments chain writes. The returned function is called with the
// write's error once it completes.
type Tracker interface {
	TrackWrite(ctx context.Context, key Key, call string) (context.Context, func(error))
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCodec replaces the default zero-token codec.
func WithCodec(c *codec.Codec) Option { return func(co *Coordinator) { co.codec = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(co *Coordinator) { co.logger = l } }

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option { return func(co *Coordinator) { co.clock = clock } }

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(co *Coordinator) { co.observers = append(co.observers, o) }
}

// WithTracker instruments chain writes.
func WithTracker(t Tracker) Option { return func(co *Coordinator) { co.tracker = t } }

type slot struct {
	state  State
	subs   map[int]chan Transition
	outbox []Transition

	// deliver serializes delivery per key so observers see the key's
	// transitions in the order they were made. Other keys never wait on it.
	deliver sync.Mutex
}

// Coordinator owns every submission state it creates. Readers get copies.
type Coordinator struct {
	writer    chain.Writer
	registry  *category.Registry
	codec     *codec.Codec
	observers []Observer
	tracker   Tracker
	logger    *slog.Logger
	clock     func() time.Time

	mu      sync.Mutex
	slots   map[Key]*slot
	nextSub int

	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator writing through writer. A nil
// registry means the built-in categories.
func NewCoordinator(writer chain.Writer, registry *category.Registry, opts ...Option) *Coordinator {
	if registry == nil {
		registry = category.Default()
	}
	c := &Coordinator{
		writer:   writer,
		registry: registry,
		codec:    codec.New(),
		logger:   slog.Default().With("component", "submission"),
		clock:    time.Now,
		slots:    make(map[Key]*slot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the category registry in use.
func (c *Coordinator) Registry() *category.Registry { return c.registry }

// Submit starts a submission. It returns once the key is Pending and the
// write has been dispatched; use the Handle to wait for the outcome.
//
// Errors: ErrWalletRequired without a wallet in ctx (no state change),
// ErrAlreadyPending while the key is Pending (no state change),
// *ValidationError for bad input and codec errors (key becomes Failed).
func (c *Coordinator) Submit(ctx context.Context, req Request) (*Handle, error) {
	from, err := identity.Require(ctx)
	if err != nil {
		return nil, ErrWalletRequired
	}
	key := req.Key()
	if key.Category == "" {
		return nil, &ValidationError{Field: "category", Code: category.CodeRequired, Message: "is required"}
	}

	// Observers and the write run detached from caller cancellation.
	notifyCtx := context.WithoutCancel(ctx)

	c.mu.Lock()
	s := c.slotLocked(key)
	if s.state.Phase == PhasePending {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "submission rejected: already pending",
			"record_id", key.RecordID, "category", key.Category, "submission_id", s.state.SubmissionID)
		return nil, ErrAlreadyPending
	}

	schema, in, verr := c.validate(req)
	if verr != nil {
		c.acknowledgeLocked(key, s)
		c.transitionLocked(key, s, State{Phase: PhaseFailed, Reason: verr})
		c.mu.Unlock()
		c.flush(notifyCtx, s)
		c.logger.InfoContext(ctx, "submission invalid",
			"record_id", key.RecordID, "category", key.Category, "error", verr)
		return nil, verr
	}

	id := uuid.New().String()
	c.acknowledgeLocked(key, s)
	c.transitionLocked(key, s, State{Phase: PhasePending, SubmissionID: id})
	c.mu.Unlock()
	c.flush(notifyCtx, s)

	h := &Handle{id: id, key: key, done: make(chan struct{})}

	call, err := c.prepare(schema, key, in, h)
	if err != nil {
		c.finish(notifyCtx, h, "", err)
		return nil, err
	}
	call.From = from.String()

	c.logger.InfoContext(ctx, "submission accepted",
		"submission_id", id, "record_id", key.RecordID, "category", key.Category, "call", call.Name)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.dispatch(notifyCtx, h, call)
	}()
	return h, nil
}

func (c *Coordinator) validate(req Request) (*category.Schema, category.Input, error) {
	schema, ok := c.registry.Lookup(req.Category())
	if !ok {
		return nil, category.Input{}, &ValidationError{
			Field:   "category",
			Code:    CodeUnknownCategory,
			Message: fmt.Sprintf("%q is not a known category", req.Category()),
		}
	}
	in, err := schema.Validate(req.RawValue(), req.Extras())
	if err != nil {
		var fe *category.FieldError
		if errors.As(err, &fe) {
			return nil, category.Input{}, &ValidationError{Field: fe.Field, Code: fe.Code, Message: fe.Message}
		}
		return nil, category.Input{}, &ValidationError{Field: category.ValueField, Code: category.CodeMalformed, Message: err.Error()}
	}
	return schema, in, nil
}

// prepare encodes the value and lays out the contract call.
func (c *Coordinator) prepare(schema *category.Schema, key Key, in category.Input, h *Handle) (chain.Call, error) {
	var payload *codec.Payload
	if in.HasValue {
		p, err := c.codec.Encode(in.Value)
		if err != nil {
			return chain.Call{}, err
		}
		if err := c.codec.Verify(p); err != nil {
			return chain.Call{}, err
		}
		payload = &p
		h.payload = payload
	}
	return schema.BuildCall(key.RecordID, in, payload)
}

func (c *Coordinator) dispatch(ctx context.Context, h *Handle, call chain.Call) {
	var done func(error)
	if c.tracker != nil {
		ctx, done = c.tracker.TrackWrite(ctx, h.key, call.Name)
	}

	tx, err := c.writer.Write(ctx, call)
	if err == nil && tx == "" {
		err = errors.New("writer returned an empty transaction handle")
	}
	if err != nil {
		err = &ExternalWriteError{Call: call.Name, Err: err}
	}
	if done != nil {
		done(err)
	}
	c.finish(ctx, h, tx, err)
}

// finish records the terminal state of h and wakes its waiters.
func (c *Coordinator) finish(ctx context.Context, h *Handle, tx chain.TxHandle, err error) {
	next := State{Phase: PhaseSucceeded, SubmissionID: h.id, TxHandle: tx}
	if err != nil {
		next = State{Phase: PhaseFailed, SubmissionID: h.id, Reason: err}
	}

	c.mu.Lock()
	s := c.slotLocked(h.key)
	c.transitionLocked(h.key, s, next)
	h.result = s.state
	c.mu.Unlock()
	c.flush(ctx, s)

	if err != nil {
		c.logger.WarnContext(ctx, "submission failed",
			"submission_id", h.id, "record_id", h.key.RecordID, "category", h.key.Category, "error", err)
	} else {
		c.logger.InfoContext(ctx, "submission confirmed",
			"submission_id", h.id, "record_id", h.key.RecordID, "category", h.key.Category, "tx", tx)
	}
	close(h.done)
}

// Status returns the current state of a key. Unknown keys are Idle.
func (c *Coordinator) Status(recordID uint64, cat string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[Key{RecordID: recordID, Category: cat}]; ok {
		return s.state
	}
	return State{Phase: PhaseIdle}
}

// Reset returns a key to Idle after the UI has shown its terminal state.
// A Pending key cannot be reset because its write is already dispatched.
func (c *Coordinator) Reset(recordID uint64, cat string) error {
	key := Key{RecordID: recordID, Category: cat}

	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	if s.state.Phase == PhasePending {
		c.mu.Unlock()
		return ErrAlreadyPending
	}
	c.acknowledgeLocked(key, s)
	c.mu.Unlock()

	c.flush(context.Background(), s)
	return nil
}

// Subscribe returns a channel that receives every transition of key from
// now on. Delivery never blocks the coordinator: when the buffer is full the
// transition is dropped for that subscriber, and Status remains the source
// of truth. The returned function unsubscribes and closes the channel.
func (c *Coordinator) Subscribe(key Key, buffer int) (<-chan Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Transition, buffer)

	c.mu.Lock()
	s := c.slotLocked(key)
	id := c.nextSub
	c.nextSub++
	s.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.deliver.Lock()
			defer s.deliver.Unlock()
			c.mu.Lock()
			delete(s.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// Wait blocks until every dispatched write has completed or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) slotLocked(key Key) *slot {
	s, ok := c.slots[key]
	if !ok {
		s = &slot{state: State{Phase: PhaseIdle, UpdatedAt: c.clock()}, subs: make(map[int]chan Transition)}
		c.slots[key] = s
	}
	return s
}

// acknowledgeLocked moves a terminal key back to Idle.
func (c *Coordinator) acknowledgeLocked(key Key, s *slot) {
	if s.state.Phase.Terminal() {
		c.transitionLocked(key, s, State{Phase: PhaseIdle})
	}
}

func (c *Coordinator) transitionLocked(key Key, s *slot, next State) {
	next.UpdatedAt = c.clock()
	from := s.state.Phase
	s.state = next
	s.outbox = append(s.outbox, Transition{Key: key, From: from, State: next})
}

// flush delivers the transitions queued on s. When it returns, every
// transition queued on s before the call has been delivered.
func (c *Coordinator) flush(ctx context.Context, s *slot) {
	s.deliver.Lock()
	defer s.deliver.Unlock()

	c.mu.Lock()
	batch := s.outbox
	s.outbox = nil
	subs := make([]chan Transition, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	for _, t := range batch {
		for _, ch := range subs {
			select {
			case ch <- t:
			default:
			}
		}
		for _, o := range c.observers {
			if err := o.OnTransition(ctx, t); err != nil {
				c.logger.ErrorContext(ctx, "transition observer failed",
					"record_id", t.Key.RecordID, "category", t.Key.Category, "phase", t.State.Phase.String(), "error", err)
			}
		}
	}
}

// Handle tracks one accepted submission.
type Handle struct {
	id      string
	key     Key
	payload *codec.Payload
	done    chan struct{}
	result  State
}

// ID returns the submission id.
func (h *Handle) ID() string { return h.id }

// Key returns the state machine key.
func (h *Handle) Key() Key { return h.key }

// Payload returns the encoded value, nil for value-less categories.
func (h *Handle) Payload() *codec.Payload { return h.payload }

// Done is closed when the submission reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the submission is terminal and returns its state. The
// error is the failure reason for Failed submissions, or ctx's error if ctx
// ends first. Abandoning the wait does not cancel the write.
func (h *Handle) Wait(ctx context.Context) (State, error) {
	select {
	case <-h.done:
		return h.result, h.result.Reason
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// TxHandle returns the transaction handle once Succeeded, or "".
func (h *Handle) TxHandle() chain.TxHandle {
	select {
	case <-h.done:
		return h.result.TxHandle
	default:
		return ""
	}
}
