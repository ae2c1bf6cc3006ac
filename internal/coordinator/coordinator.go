package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fpauthd/internal/driver"
)

// ErrNotFound is returned when an operation id has no matching status, or is
// no longer in the queue.
var ErrNotFound = errors.New("coordinator: operation not found")

// ErrAccessDenied is returned when the caller's uid does not own the
// operation being queried.
var ErrAccessDenied = errors.New("coordinator: caller does not own this operation")

const (
	enrollTimeout = 60 * time.Second
	matchTimeout  = 30 * time.Second
)

// AuditRecorder is the narrow interface the coordinator uses to persist a
// terminal operation's outcome (component I, wired to *audit.Log in
// production and a no-op/fake in tests).
type AuditRecorder interface {
	RecordOutcome(rec AuditRecord) error
}

// AuditRecord mirrors §3's AuditRecord data model.
type AuditRecord struct {
	Kind       OperationKind
	UserID     uint32
	UniqueID   OperationUniqueId
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	Detail     string
}

type status struct {
	kind OperationKind

	mu       sync.RWMutex
	enroll   EnrollingStatusData
	matching matchingStatusData
	event    *wakeEvent

	userID uint32
}

type queued struct {
	id  OperationUniqueId
	op  Operation
}

// Coordinator is the single per-process owner of the sensor queue (§4.D).
type Coordinator struct {
	drv    driver.Driver
	logger *logrus.Entry
	audit  AuditRecorder

	idMu         sync.Mutex
	perUserNext  map[uint32]uint32

	statusMu sync.RWMutex
	statuses map[OperationUniqueId]*status

	queueMu    sync.RWMutex
	queue      []queued
	queueEvent *wakeEvent
}

// New builds a Coordinator driving drv. audit may be nil to disable
// durable history (useful in tests).
func New(drv driver.Driver, logger *logrus.Entry, audit AuditRecorder) *Coordinator {
	return &Coordinator{
		drv:         drv,
		logger:      logger,
		audit:       audit,
		perUserNext: make(map[uint32]uint32),
		statuses:    make(map[OperationUniqueId]*status),
		queueEvent:  newWakeEvent(),
	}
}

// CreateOperation atomically allocates a fresh OperationUniqueId for userID.
func (c *Coordinator) CreateOperation(userID uint32) OperationUniqueId {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	next := c.perUserNext[userID]
	c.perUserNext[userID] = next + 1
	return OperationUniqueId{UserID: userID, OperationID: next}
}

// Enqueue pushes op to the back of the queue, creates its status object, and
// spawns the worker goroutine that will run it once it reaches the head.
func (c *Coordinator) Enqueue(userID uint32, op Operation) OperationUniqueId {
	id := c.CreateOperation(userID)

	st := &status{kind: op.Kind, userID: userID, event: newWakeEvent()}
	c.statusMu.Lock()
	c.statuses[id] = st
	c.statusMu.Unlock()

	c.queueMu.Lock()
	c.queue = append(c.queue, queued{id: id, op: op})
	c.queueMu.Unlock()
	c.queueEvent.notify()

	go c.runWorker(id, op, st)

	return id
}

func (c *Coordinator) queueFront() (queued, bool) {
	c.queueMu.RLock()
	defer c.queueMu.RUnlock()
	if len(c.queue) == 0 {
		return queued{}, false
	}
	return c.queue[0], true
}

// removeFromQueue drops id's own entry from the queue, wherever it sits.
// A worker only ever finishes its own operation, which is normally at the
// front by the time this runs — but an operation that times out while still
// waiting behind another (WaitForOperationStart's ctx never expires, so this
// only happens via explicit cancellation paths) must not discard whatever
// unrelated operation actually occupies the front.
func (c *Coordinator) removeFromQueue(id OperationUniqueId) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	for i, q := range c.queue {
		if q.id == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// WaitForOperationStart blocks until id is at the front of the queue. It
// fails with ErrNotFound if id was never enqueued or was already cleared.
func (c *Coordinator) WaitForOperationStart(ctx context.Context, id OperationUniqueId, userID uint32) error {
	if err := c.checkOwner(id, userID); err != nil {
		return err
	}
	for {
		ch := c.queueEvent.chanFor()
		front, ok := c.queueFront()
		if ok && front.id == id {
			return nil
		}
		if !c.stillQueued(id) {
			return ErrNotFound
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) stillQueued(id OperationUniqueId) bool {
	c.queueMu.RLock()
	defer c.queueMu.RUnlock()
	for _, q := range c.queue {
		if q.id == id {
			return true
		}
	}
	return false
}

func (c *Coordinator) checkOwner(id OperationUniqueId, userID uint32) error {
	c.statusMu.RLock()
	st, ok := c.statuses[id]
	c.statusMu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if st.userID != userID {
		return ErrAccessDenied
	}
	return nil
}

// GetEnrollProgress returns the current enroll status for id. If
// waitForNext, it blocks for the next status change before reading.
func (c *Coordinator) GetEnrollProgress(ctx context.Context, id OperationUniqueId, userID uint32, waitForNext bool) (EnrollingStatusData, error) {
	st, err := c.lookupOwned(id, userID)
	if err != nil {
		return EnrollingStatusData{}, err
	}

	if waitForNext {
		ch := st.event.chanFor()
		select {
		case <-ch:
		case <-ctx.Done():
			return EnrollingStatusData{}, ctx.Err()
		}
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.enroll, nil
}

// GetMatchResult returns the current match decision for id. If wait, it
// blocks until a decision is made (or the next change, if already decided
// the caller asked to wait again — mirrors the distilled spec's semantics of
// "wait for the next status event, then read").
func (c *Coordinator) GetMatchResult(ctx context.Context, id OperationUniqueId, userID uint32, wait bool) (MatchDecision, error) {
	st, err := c.lookupOwned(id, userID)
	if err != nil {
		return MatchDecision{}, err
	}

	if wait {
		ch := st.event.chanFor()
		select {
		case <-ch:
		case <-ctx.Done():
			return MatchDecision{}, ctx.Err()
		}
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.matching.decision, nil
}

func (c *Coordinator) lookupOwned(id OperationUniqueId, userID uint32) (*status, error) {
	c.statusMu.RLock()
	st, ok := c.statuses[id]
	c.statusMu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if st.userID != userID {
		return nil, ErrAccessDenied
	}
	return st, nil
}

// ClearOperationResult removes id's status entry, failing with ErrNotFound
// if absent and ErrAccessDenied if userID does not own it.
func (c *Coordinator) ClearOperationResult(id OperationUniqueId, userID uint32) error {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st, ok := c.statuses[id]
	if !ok {
		return ErrNotFound
	}
	if st.userID != userID {
		return ErrAccessDenied
	}
	delete(c.statuses, id)
	return nil
}

// runWorker drives one operation end to end: wait for head-of-queue (no
// deadline — an operation waiting behind others hasn't touched the sensor
// yet and must not compete for its own watchdog budget while queued), then
// run it against the driver under a per-kind watchdog timeout that starts
// only once it actually reaches the front, streaming progress and recording
// the terminal outcome.
func (c *Coordinator) runWorker(id OperationUniqueId, op Operation, st *status) {
	started := time.Now()

	if err := c.WaitForOperationStart(context.Background(), id, st.userID); err != nil {
		c.finish(id, st, started, "Error", err.Error())
		return
	}

	timeout := matchTimeout
	if op.Kind == OperationEnroll {
		timeout = enrollTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var outcome, detail string
	switch op.Kind {
	case OperationEnroll:
		outcome, detail = c.runEnroll(ctx, st)
	case OperationMatch:
		outcome, detail = c.runMatch(ctx, op, st)
	}

	if ctx.Err() != nil {
		outcome = "Timeout"
		detail = ctx.Err().Error()
	}

	c.finish(id, st, started, outcome, detail)
}

func (c *Coordinator) runEnroll(ctx context.Context, st *status) (outcome, detail string) {
	for {
		select {
		case <-ctx.Done():
			return "Timeout", "enroll deadline exceeded"
		default:
		}

		result, err := c.drv.StartOrContinueEnroll(ctx)
		if err != nil {
			if errors.Is(err, driver.ErrLowQuality) {
				st.mu.Lock()
				st.enroll.Images++
				st.mu.Unlock()
				st.event.notify()
				continue
			}
			st.mu.Lock()
			st.enroll.Err = err
			st.mu.Unlock()
			st.event.notify()
			return "Error", err.Error()
		}

		st.mu.Lock()
		st.enroll.Images++
		if result.Status == driver.EnrollComplete {
			st.enroll.Template = result.Template
			st.enroll.Done = true
		}
		done := st.enroll.Done
		st.mu.Unlock()
		st.event.notify()

		if done {
			return "Success", fmt.Sprintf("images=%d", st.enroll.Images)
		}
	}
}

func (c *Coordinator) runMatch(ctx context.Context, op Operation, st *status) (outcome, detail string) {
	result, err := c.drv.MatchTemplates(ctx, op.Templates)
	if err != nil {
		st.mu.Lock()
		st.matching.decision = MatchDecision{Decided: true, Err: err}
		st.mu.Unlock()
		st.event.notify()
		return "Error", err.Error()
	}

	decision := MatchDecision{Decided: true}
	if result.Matched {
		decision.Matched = true
		decision.Index = uint32(result.InputIndex)
		decision.Updated = result.UpdatedTemplate
	}
	st.mu.Lock()
	st.matching.decision = decision
	st.mu.Unlock()
	st.event.notify()

	if !result.Matched {
		if result.NoMatchReason == driver.NoMatchLowQuality {
			return "LowQuality", "no match: low quality"
		}
		return "NoMatch", "no match"
	}
	return "Success", fmt.Sprintf("matched index=%d", result.InputIndex)
}

func (c *Coordinator) finish(id OperationUniqueId, st *status, started time.Time, outcome, detail string) {
	if outcome == "Error" || outcome == "Timeout" {
		// Failure atomicity (§5, §7): an error or watchdog timeout may have
		// left the MCU mid-operation, so force it back to Reset and drop our
		// residency belief rather than trust whatever state it's in.
		resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.drv.Reset(resetCtx); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("failed to reset sensor after failed operation")
		}
		cancel()
	}

	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"operation": id.String(),
			"outcome":   outcome,
		}).Info("operation finished")
	}

	if c.audit != nil {
		rec := AuditRecord{
			Kind:       st.kind,
			UserID:     st.userID,
			UniqueID:   id,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Outcome:    outcome,
			Detail:     detail,
		}
		if err := c.audit.RecordOutcome(rec); err != nil && c.logger != nil {
			c.logger.WithError(err).Warn("failed to record audit outcome")
		}
	}

	// On a failed or timed-out operation the driver's own residency checks
	// (checkIfTemplatesGotCleared, ensureSeedIsSet) re-synchronize state on
	// the next call; nothing further to do here.
	c.removeFromQueue(id)
	c.queueEvent.notify()
}
