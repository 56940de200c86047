// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

// Package control is the server side of the queue-and-report protocol. The
// Dispatcher owns the action state machine
//
//	queued -> running -> succeeded | failed
//
// and relies on conditional updates in the store, never on in-process
// locks, so several portal processes may share one database.
package control

import (
	"context"
	"errors"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/zjgordon/labportal/internal/db"
	"github.com/zjgordon/labportal/internal/errs"
	"github.com/zjgordon/labportal/internal/liveness"
	"github.com/zjgordon/labportal/internal/logging"
	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
	"github.com/zjgordon/labportal/internal/validate"
)

const (
	// DefaultMaxPull caps PullQueued when no limit is configured.
	DefaultMaxPull = 10
	// MaxMessageLen bounds stored action messages.
	MaxMessageLen = model.MaxMessageLen
	// StaleMessage is recorded on running actions reclaimed by ReclaimStale.
	StaleMessage = "no report received from agent"

	recentFailureLimit = 10
)

// Options tunes a Dispatcher.
type Options struct {
	// MaxPull caps how many actions one PullQueued call may claim.
	MaxPull int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Dispatcher validates, queues and tracks actions.
type Dispatcher struct {
	store   db.Store
	maxPull int
	now     func() time.Time
	log     *clog.Logger
}

// New returns a Dispatcher over store.
func New(store db.Store, opts Options) *Dispatcher {
	if opts.MaxPull <= 0 {
		opts.MaxPull = DefaultMaxPull
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		store:   store,
		maxPull: opts.MaxPull,
		now:     opts.Now,
		log:     logging.With("dispatcher"),
	}
}

// clock returns the current time in the precision every backend stores.
func (d *Dispatcher) clock() time.Time {
	return d.now().UTC().Truncate(time.Microsecond)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errs.Wrap(errs.Internal, err, "generate id")
	}
	return id.String(), nil
}

// storeErr classifies a store error. notFound names the missing entity.
func storeErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return errs.New(errs.NotFound, "%s not found", notFound)
	case errors.Is(err, db.ErrDuplicate):
		return errs.Wrap(errs.Conflict, err, "%s already exists", notFound)
	case errors.Is(err, db.ErrInUse):
		return errs.Wrap(errs.Conflict, err, "%s is still in use", notFound)
	default:
		return errs.Wrap(errs.Internal, err, "store failure")
	}
}

// EnqueueRequest asks for kind to run against a managed service.
type EnqueueRequest struct {
	HostID         string           `json:"hostId" validate:"required,max=64"`
	ServiceID      string           `json:"serviceId" validate:"required,max=64"`
	Kind           model.ActionKind `json:"kind" validate:"required,actionkind"`
	RequestedBy    string           `json:"-"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

// Enqueue creates a queued action. Nothing is written unless the kind is
// valid, the service belongs to the host and its flags permit the kind.
// With an idempotency key the action previously enqueued for that host and
// key is returned instead of creating another.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (model.Action, error) {
	if err := validate.Struct(req); err != nil {
		return model.Action{}, err
	}
	svc, err := d.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return model.Action{}, storeErr(err, "service")
	}
	if svc.HostID != req.HostID {
		return model.Action{}, errs.New(errs.Validation, "service %s does not belong to host %s", svc.ID, req.HostID)
	}
	if err := validate.Permitted(req.Kind, svc); err != nil {
		return model.Action{}, err
	}

	if req.IdempotencyKey != "" {
		existing, err := d.store.FindActionByIdempotencyKey(ctx, req.HostID, req.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return model.Action{}, storeErr(err, "action")
		}
	}

	id, err := newID()
	if err != nil {
		return model.Action{}, err
	}
	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = "admin"
	}
	a := model.Action{
		ID:             id,
		HostID:         req.HostID,
		ServiceID:      svc.ID,
		UnitName:       svc.UnitName,
		Kind:           req.Kind,
		Status:         model.StatusQueued,
		RequestedAt:    d.clock(),
		RequestedBy:    requestedBy,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := d.store.InsertAction(ctx, a); err != nil {
		if errors.Is(err, db.ErrDuplicate) && req.IdempotencyKey != "" {
			// A concurrent request with the same key won the insert.
			existing, ferr := d.store.FindActionByIdempotencyKey(ctx, req.HostID, req.IdempotencyKey)
			if ferr == nil {
				return existing, nil
			}
		}
		return model.Action{}, storeErr(err, "action")
	}
	d.log.Info("action queued", "action", a.ID, "host", a.HostID, "unit", a.UnitName, "kind", a.Kind, "by", a.RequestedBy)
	return a, nil
}

// PullQueued claims up to max queued actions of hostID in FIFO order and
// returns them as running. max defaults to 1 and is capped by the
// configured limit. An action is returned only if this call's conditional
// update moved it out of queued, so concurrent pulls never share one.
func (d *Dispatcher) PullQueued(ctx context.Context, hostID string, max int) ([]model.Action, error) {
	if max <= 0 {
		max = 1
	}
	if max > d.maxPull {
		max = d.maxPull
	}
	candidates, err := d.store.QueuedCandidates(ctx, hostID, max)
	if err != nil {
		return nil, storeErr(err, "action")
	}
	claimed := make([]model.Action, 0, len(candidates))
	for _, a := range candidates {
		startedAt := d.clock()
		ok, err := d.store.ClaimAction(ctx, a.ID, startedAt)
		if err != nil {
			return claimed, storeErr(err, "action")
		}
		if !ok {
			continue
		}
		a.Status = model.StatusRunning
		a.StartedAt = &startedAt
		claimed = append(claimed, a)
	}
	if len(claimed) > 0 {
		d.log.Debug("actions claimed", "host", hostID, "count", len(claimed))
	}
	return claimed, nil
}

// Report is an agent's account of an action it is executing or finished.
type Report struct {
	ActionID string `json:"actionId" validate:"required,max=64"`
	HostID   string `json:"-"`
	Status   string `json:"status" validate:"required,reportstatus"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ReportResult applies an agent report. Only running actions accept
// reports: a running report refreshes the progress message and a terminal
// report finishes the action. Anything else leaves the row unchanged.
func (d *Dispatcher) ReportResult(ctx context.Context, r Report) (model.Action, error) {
	if err := validate.Struct(r); err != nil {
		return model.Action{}, err
	}
	status, _ := model.ParseStatus(r.Status)

	a, err := d.store.GetAction(ctx, r.ActionID)
	if err != nil {
		return model.Action{}, storeErr(err, "action")
	}
	if a.HostID != r.HostID {
		return model.Action{}, errs.New(errs.HostMismatch, "action %s belongs to another host", a.ID)
	}
	if a.Status != model.StatusRunning {
		return model.Action{}, errs.New(errs.InvalidStateTransition, "action %s is %s, not running", a.ID, a.Status)
	}

	msg := clipMessage(security.SanitizeOutput(r.Message))
	if status == model.StatusRunning {
		ok, err := d.store.UpdateRunningMessage(ctx, a.ID, msg)
		if err != nil {
			return model.Action{}, storeErr(err, "action")
		}
		if !ok {
			return model.Action{}, errs.New(errs.InvalidStateTransition, "action %s is no longer running", a.ID)
		}
		a.Message = msg
		return a, nil
	}

	finishedAt := d.clock()
	if a.StartedAt != nil && finishedAt.Before(*a.StartedAt) {
		finishedAt = *a.StartedAt
	}
	ok, err := d.store.CompleteAction(ctx, a.ID, status, finishedAt, r.ExitCode, msg)
	if err != nil {
		return model.Action{}, storeErr(err, "action")
	}
	if !ok {
		return model.Action{}, errs.New(errs.InvalidStateTransition, "action %s is no longer running", a.ID)
	}
	a.Status = status
	a.FinishedAt = &finishedAt
	a.ExitCode = r.ExitCode
	a.Message = msg
	d.log.Info("action finished", "action", a.ID, "host", a.HostID, "unit", a.UnitName, "status", a.Status)
	return a, nil
}

func clipMessage(s string) string {
	return security.Clip(s, MaxMessageLen)
}

// Heartbeat records that hostID's agent is alive and returns the host with
// its derived liveness.
func (d *Dispatcher) Heartbeat(ctx context.Context, hostID string) (model.HostSummary, error) {
	now := d.clock()
	if err := d.store.TouchHost(ctx, hostID, now); err != nil {
		return model.HostSummary{}, storeErr(err, "host")
	}
	h, err := d.store.GetHost(ctx, hostID)
	if err != nil {
		return model.HostSummary{}, storeErr(err, "host")
	}
	return liveness.Summarize(h, now), nil
}

// ReclaimStale fails running actions started more than olderThan ago. A
// non-positive olderThan disables reclaiming.
func (d *Dispatcher) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	now := d.clock()
	n, err := d.store.ReclaimStale(ctx, now.Add(-olderThan), now, StaleMessage)
	if err != nil {
		return 0, storeErr(err, "action")
	}
	if n > 0 {
		d.log.Warn("reclaimed stale running actions", "count", n, "olderThan", olderThan)
	}
	return n, nil
}
