package station

import (
	"context"
	"fmt"
	"sort"
	"time"

	stationerrors "stationd/core/errors"
	"stationd/core/events"
	"stationd/core/types"
	"stationd/native/station/collab"
	"stationd/observability/metrics"

	"github.com/google/uuid"
)

// DefaultExpirationTTL is used when a caller does not supply an
// expiration_dt at creation time.
const DefaultExpirationTTL = 7 * 24 * time.Hour

// Executor implements the two capabilities every operation kind needs:
// create-time validation and execution.
type Executor interface {
	// Validate performs cross-referential validation against op's
	// input and may mutate op.Result with any pre-allocated ids that
	// must be known before the request is persisted.
	Validate(eng *Engine, op *RequestOperation) error
	// Execute performs the effect exactly once, while req is in
	// Processing. completed=false with a nil error means the executor
	// suspended on an external collaborator call and a follow-up
	// callback will finalize the request; the request remains
	// Processing until that happens.
	Execute(eng *Engine, req *Request) (completed bool, err error)
}

// Engine is the request lifecycle engine: the state machine that moves
// requests from creation to completion.
type Engine struct {
	Repos     *Repositories
	Authz     *Authorizer
	Eval      *Evaluator
	Clock     collab.Clock
	IDs       collab.IDSource
	Emitter   events.Emitter
	Metrics   *metrics.Registry
	Executors map[OperationKind]Executor

	dirty map[uuid.UUID]struct{}
}

// NewEngine wires an Engine over an already-constructed Repositories
// aggregate. Executors are registered separately via RegisterExecutor so
// ops.go can stay decoupled from engine construction order.
func NewEngine(repos *Repositories, clock collab.Clock, ids collab.IDSource) *Engine {
	eval := &Evaluator{State: repos}
	authz := &Authorizer{Permissions: repos, Users: repos, Rights: repos}
	return &Engine{
		Repos:     repos,
		Authz:     authz,
		Eval:      eval,
		Clock:     clock,
		IDs:       ids,
		Emitter:   events.NoopEmitter{},
		Executors: make(map[OperationKind]Executor),
		dirty:     make(map[uuid.UUID]struct{}),
	}
}

func (e *Engine) RegisterExecutor(kind OperationKind, x Executor) {
	e.Executors[kind] = x
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Engine) emit(evt events.Event) {
	if e.Emitter != nil {
		e.Emitter.Emit(evt)
	}
}

// CreateRequestInput is the caller-supplied input to CreateRequest.
type CreateRequestInput struct {
	RequestedBy   uuid.UUID
	Operation     RequestOperation
	Title         string
	Summary       string
	ExpirationAt  time.Time
	ExecutionPlan ExecutionPlan
}

// CreateRequest validates the operation input, synthesizes a Request
// with a fresh id, records the requester's own implicit approval, and
// stores it in Created status. Validation errors surface synchronously;
// no request is persisted on failure.
func (e *Engine) CreateRequest(ctx Context, in CreateRequestInput) (*Request, error) {
	if !e.Authz.IsAllowed(ctx, Resource{Kind: ResourceRequest, Action: ActionCreate, ID: AnyID()}) {
		return nil, stationerrors.Authorization("Request::Create")
	}

	executor, ok := e.Executors[in.Operation.Kind]
	if !ok {
		return nil, stationerrors.Validation("UNKNOWN_OPERATION", fmt.Sprintf("no executor registered for %s", in.Operation.Kind))
	}
	if err := executor.Validate(e, &in.Operation); err != nil {
		return nil, err
	}

	id, err := e.IDs.NewUUID(context.Background())
	if err != nil {
		return nil, stationerrors.External(fmt.Sprintf("id allocation failed: %v", err))
	}

	now := e.now()
	expiration := in.ExpirationAt
	if expiration.IsZero() {
		expiration = now.Add(DefaultExpirationTTL)
	}

	req := &Request{
		ID:            id,
		RequestedBy:   in.RequestedBy,
		Operation:     in.Operation,
		Title:         in.Title,
		Summary:       in.Summary,
		Status:        RequestStatus{Kind: StatusCreated},
		CreatedAt:     now,
		ExpirationAt:  expiration,
		ExecutionPlan: in.ExecutionPlan,
		Approvals: []Approval{{
			ApproverID: in.RequestedBy,
			Decision:   ApprovalApproved,
			DecidedAt:  now,
			Reason:     "implicit approval from request creation",
		}},
	}

	if err := e.Repos.PutRequest(req); err != nil {
		return nil, stationerrors.Evaluate(err.Error())
	}
	e.markDirty(req.ID)
	if e.Metrics != nil {
		e.Metrics.RecordRequestCreated(req.Operation.Kind.String())
	}
	e.emit(newRequestEvent("request.created", req))
	return req, nil
}

// SubmitApproval records user's decision on request id. Only accepted
// while the request is Created. A repeated submission by the same user
// is treated as Conflict regardless of whether the decision matches the
// prior one: this keeps round-trip application strictly idempotent at
// the state level (the second call never mutates state) while still
// surfacing to the caller that their vote was already recorded.
func (e *Engine) SubmitApproval(ctx Context, requestID, userID uuid.UUID, decision ApprovalDecision, reason string) error {
	req, ok := e.Repos.RequestByID(requestID)
	if !ok {
		return stationerrors.NotFound("Request", requestID.String())
	}
	if !e.Authz.IsAllowed(ctx, Resource{Kind: ResourceRequest, Action: ActionRead, ID: IDOf(requestID)}) {
		return stationerrors.Authorization("Request::Read")
	}
	if req.Status.Kind != StatusCreated {
		return stationerrors.Conflict(fmt.Sprintf("request %s is not in Created status", requestID))
	}
	if _, voted := req.HasApprovalFrom(userID); voted {
		return stationerrors.Conflict(fmt.Sprintf("user %s already voted on request %s", userID, requestID))
	}

	req.Approvals = append(req.Approvals, Approval{
		ApproverID: userID,
		Decision:   decision,
		DecidedAt:  e.now(),
		Reason:     reason,
	})
	if err := e.Repos.PutRequest(req); err != nil {
		return stationerrors.Evaluate(err.Error())
	}
	e.markDirty(req.ID)
	if e.Metrics != nil {
		decisionLabel := "approved"
		if decision == ApprovalRejected {
			decisionLabel = "rejected"
		}
		e.Metrics.RecordApproval(decisionLabel)
	}
	e.emit(newRequestEvent("request.approval_submitted", req))
	return nil
}

// CancelRequest transitions request id to Cancelled. Allowed from
// Created, Approved, or Scheduled: any state before Processing.
func (e *Engine) CancelRequest(ctx Context, requestID uuid.UUID, reason string) error {
	req, ok := e.Repos.RequestByID(requestID)
	if !ok {
		return stationerrors.NotFound("Request", requestID.String())
	}
	if !e.Authz.IsAllowed(ctx, Resource{Kind: ResourceRequest, Action: ActionUpdate, ID: IDOf(requestID)}) {
		return stationerrors.Authorization("Request::Update")
	}
	switch req.Status.Kind {
	case StatusCreated, StatusApproved, StatusScheduled:
	default:
		return stationerrors.Conflict(fmt.Sprintf("request %s cannot be cancelled from status %s", requestID, req.Status.Kind))
	}

	req.Status = RequestStatus{Kind: StatusCancelled, Reason: reason}
	if err := e.Repos.PutRequest(req); err != nil {
		return stationerrors.Evaluate(err.Error())
	}
	delete(e.dirty, req.ID)
	if e.Metrics != nil {
		e.Metrics.RecordTerminal(StatusCancelled.String())
	}
	e.emit(newRequestEvent("request.cancelled", req))
	return nil
}

// cancelAllCreatedRequestsBy cancels every still-Created request
// authored by userID, used by EditUser's cancel_pending_requests flag.
// now is accepted but not stored: a Cancelled status carries only
// the reason, so no cancellation timestamp is recorded.
func (e *Engine) cancelAllCreatedRequestsBy(userID uuid.UUID, reason string, now time.Time) error {
	for _, req := range e.Repos.AllRequests() {
		if req.RequestedBy != userID || req.Status.Kind != StatusCreated {
			continue
		}
		req.Status = RequestStatus{Kind: StatusCancelled, Reason: reason}
		if err := e.Repos.PutRequest(req); err != nil {
			return err
		}
		delete(e.dirty, req.ID)
		if e.Metrics != nil {
			e.Metrics.RecordTerminal(StatusCancelled.String())
		}
		e.emit(newRequestEvent("request.cancelled", req))
	}
	return nil
}

func (e *Engine) markDirty(id uuid.UUID) {
	if e.dirty == nil {
		e.dirty = make(map[uuid.UUID]struct{})
	}
	e.dirty[id] = struct{}{}
}

func sortedIDs(m map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Tick runs one scheduled pass of the lifecycle engine: expiry sweep,
// approval-driven re-evaluation of dirty requests, promotion of
// scheduled requests, execution dispatch, and recording of terminal
// results, in that order, with ids processed ascending within each
// phase.
func (e *Engine) Tick() error {
	start := e.now()

	e.sweepExpired(start)
	e.reevaluateDirty()
	e.promoteScheduled(start)
	e.dispatchExecution()

	if e.Metrics != nil {
		e.Metrics.ObserveTick(e.now().Sub(start))
	}
	return nil
}

func (e *Engine) sweepExpired(now time.Time) {
	var toExpire []*Request
	for _, status := range []RequestStatusKind{StatusCreated, StatusApproved, StatusScheduled} {
		toExpire = append(toExpire, e.Repos.RequestsByStatus(status)...)
	}
	sort.Slice(toExpire, func(i, j int) bool { return toExpire[i].ID.String() < toExpire[j].ID.String() })

	for _, req := range toExpire {
		if req.ExpirationAt.IsZero() || req.ExpirationAt.After(now) {
			continue
		}
		req.Status = RequestStatus{Kind: StatusRejected, Reason: "expired"}
		_ = e.Repos.PutRequest(req)
		delete(e.dirty, req.ID)
		if e.Metrics != nil {
			e.Metrics.RecordTerminal(StatusRejected.String())
		}
		e.emit(newRequestEvent("request.expired", req))
	}
}

func (e *Engine) reevaluateDirty() {
	ids := sortedIDs(e.dirty)
	for _, id := range ids {
		delete(e.dirty, id)
		req, ok := e.Repos.RequestByID(id)
		if !ok || req.Status.Kind != StatusCreated {
			continue
		}

		verdict, snapshot, err := e.Eval.EvaluateRequest(req)
		if err != nil {
			req.Status = RequestStatus{Kind: StatusFailed, Reason: err.Error()}
			_ = e.Repos.PutRequest(req)
			if e.Metrics != nil {
				e.Metrics.RecordTerminal(StatusFailed.String())
			}
			e.emit(newRequestEvent("request.evaluation_failed", req))
			continue
		}
		req.PolicySnapshot = snapshot
		if e.Metrics != nil {
			e.Metrics.RecordPolicyEvaluation(verdict.String())
		}

		switch verdict {
		case RuleApproved:
			e.transitionApproved(req)
		case RuleRejected:
			req.Status = RequestStatus{Kind: StatusRejected, Reason: "rejected by policy evaluation"}
			_ = e.Repos.PutRequest(req)
			if e.Metrics != nil {
				e.Metrics.RecordTerminal(StatusRejected.String())
			}
			e.emit(newRequestEvent("request.rejected", req))
		default:
			_ = e.Repos.PutRequest(req)
		}
	}
}

// transitionApproved implements the Created to Approved transition: it
// immediately continues into Scheduled per the configured execution
// plan, atomically from the caller's perspective.
func (e *Engine) transitionApproved(req *Request) {
	now := e.now()
	req.Status = RequestStatus{Kind: StatusApproved}
	e.emit(newRequestEvent("request.approved", req))

	scheduledAt := now
	if req.ExecutionPlan.Kind == PlanScheduled {
		if req.ExecutionPlan.At.After(now) {
			scheduledAt = req.ExecutionPlan.At
		}
	}
	req.Status = RequestStatus{Kind: StatusScheduled, ScheduledAt: scheduledAt}
	_ = e.Repos.PutRequest(req)
	e.emit(newRequestEvent("request.scheduled", req))
}

func (e *Engine) promoteScheduled(now time.Time) {
	scheduled := e.Repos.RequestsByStatus(StatusScheduled)
	sort.Slice(scheduled, func(i, j int) bool { return scheduled[i].ID.String() < scheduled[j].ID.String() })
	for _, req := range scheduled {
		if req.Status.ScheduledAt.After(now) {
			continue
		}
		req.Status = RequestStatus{Kind: StatusProcessing, StartedAt: now}
		_ = e.Repos.PutRequest(req)
		e.emit(newRequestEvent("request.processing", req))
	}
}

func (e *Engine) dispatchExecution() {
	processing := e.Repos.RequestsByStatus(StatusProcessing)
	sort.Slice(processing, func(i, j int) bool { return processing[i].ID.String() < processing[j].ID.String() })
	for _, req := range processing {
		executor, ok := e.Executors[req.Operation.Kind]
		if !ok {
			req.Status = RequestStatus{Kind: StatusFailed, Reason: "no executor registered"}
			_ = e.Repos.PutRequest(req)
			if e.Metrics != nil {
				e.Metrics.RecordTerminal(StatusFailed.String())
			}
			continue
		}

		completed, err := executor.Execute(e, req)
		if err != nil {
			req.Status = RequestStatus{Kind: StatusFailed, Reason: err.Error()}
			_ = e.Repos.PutRequest(req)
			if e.Metrics != nil {
				e.Metrics.RecordTerminal(StatusFailed.String())
			}
			e.emit(newRequestEvent("request.failed", req))
			continue
		}
		if !completed {
			// Suspended awaiting an external callback; status remains
			// Processing and is left untouched here.
			_ = e.Repos.PutRequest(req)
			continue
		}

		req.Status = RequestStatus{Kind: StatusCompleted, CompletedAt: e.now()}
		_ = e.Repos.PutRequest(req)
		if e.Metrics != nil {
			e.Metrics.RecordTerminal(StatusCompleted.String())
		}
		e.emit(newRequestEvent("request.completed", req))
	}
}

func newRequestEvent(eventType string, req *Request) events.Event {
	return requestEvent{
		eventType: eventType,
		requestID: req.ID.String(),
		status:    req.Status.Kind.String(),
	}
}

type requestEvent struct {
	eventType string
	requestID string
	status    string
}

func (e requestEvent) EventType() string { return e.eventType }

func (e requestEvent) Record() types.Event {
	return types.Event{
		Type: e.eventType,
		Attributes: map[string]string{
			"request_id": e.requestID,
			"status":     e.status,
		},
	}
}
