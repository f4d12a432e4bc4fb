package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"stationd/native/station"

	"github.com/google/uuid"
)

// buildMethods assembles the full method dispatch table.
func (s *Server) buildMethods() map[string]handlerFunc {
	m := map[string]handlerFunc{
		"me":                      s.handleMe,
		"capabilities":            s.handleCapabilities,
		"system_info":             s.handleSystemInfo,
		"health_status":           s.handleHealthStatus,
		"list_users":              s.handleListUsers,
		"get_user":                s.handleGetUser,
		"create_request":          s.handleCreateRequest,
		"get_request":             s.handleGetRequest,
		"list_requests":           s.handleListRequests,
		"submit_request_approval": s.handleSubmitApproval,
		"cancel_request":          s.handleCancelRequest,
		"fetch_account_balances":  s.handleFetchAccountBalances,
		"get_permission":          s.handleGetPermission,
		"list_permissions":        s.handleListPermissions,
		"get_request_policy":      s.handleGetRequestPolicy,
		"list_request_policies":   s.handleListRequestPolicies,
		"canister_status":         s.handleCanisterStatus,
	}
	return m
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	return json.Unmarshal(params, out)
}

// --- identity / introspection ---

func (s *Server) handleMe(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	resp := struct {
		Principal    string `json:"principal"`
		IsController bool   `json:"is_controller"`
		UserID       string `json:"user_id,omitempty"`
	}{Principal: string(ctx.Principal), IsController: ctx.IsController}

	if u, ok := s.Engine.Repos.UserByIdentity(ctx.Principal); ok {
		resp.UserID = u.ID.String()
	}
	writeResult(w, id, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	writeResult(w, id, map[string]any{"methods": names})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	writeResult(w, id, map[string]any{
		"name":             "stationd",
		"user_count":       len(s.Engine.Repos.AllUsers()),
		"account_count":    len(s.Engine.Repos.AllAccounts()),
		"pending_requests": len(s.Engine.Repos.RequestsByStatus(station.StatusCreated)),
	})
}

func (s *Server) handleHealthStatus(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	writeResult(w, id, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// --- users ---

func (s *Server) handleListUsers(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceUser, Action: station.ActionList, ID: station.AnyID()}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "User::List not allowed")
		return
	}
	users := s.Engine.Repos.AllUsers()
	out := make([]userWire, 0, len(users))
	for _, u := range users {
		out = append(out, userToWire(u))
	}
	writeResult(w, id, out)
}

func (s *Server) handleGetUser(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid user_id")
		return
	}
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceUser, Action: station.ActionRead, ID: station.IDOf(uid)}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "User::Read not allowed")
		return
	}
	u, ok := s.Engine.Repos.UserByID(uid)
	if !ok {
		writeError(w, http.StatusNotFound, id, codeNotFound, "user not found")
		return
	}
	writeResult(w, id, userToWire(u))
}

type userWire struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Groups []string `json:"groups"`
}

func userToWire(u *station.User) userWire {
	groups := make([]string, 0, len(u.Groups))
	for g := range u.Groups {
		groups = append(groups, g.String())
	}
	return userWire{ID: u.ID.String(), Name: u.Name, Status: u.Status.String(), Groups: groups}
}

// --- requests ---

// createRequestWire is the wire envelope for create_request: operation
// selects which OperationKind to build, input carries its fields (see
// decodeInput for the field-name conventions used to recover
// station-native types from raw JSON), and the remaining fields mirror
// station.CreateRequestInput.
type createRequestWire struct {
	Operation    string                     `json:"operation"`
	Input        map[string]json.RawMessage `json:"input"`
	Title        string                     `json:"title"`
	Summary      string                     `json:"summary"`
	ExpirationAt *time.Time                 `json:"expiration_at,omitempty"`
	Scheduled    *time.Time                 `json:"scheduled_at,omitempty"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req createRequestWire
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	kind, ok := operationKindByName[req.Operation]
	if !ok {
		writeError(w, http.StatusBadRequest, id, codeValidation, "unknown operation "+req.Operation)
		return
	}
	input, err := decodeInput(req.Input)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, err.Error())
		return
	}

	u, ok := s.Engine.Repos.UserByIdentity(ctx.Principal)
	if !ok {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "caller is not a registered user")
		return
	}

	in := station.CreateRequestInput{
		RequestedBy: u.ID,
		Operation:   station.RequestOperation{Kind: kind, Input: input},
		Title:       req.Title,
		Summary:     req.Summary,
	}
	if req.ExpirationAt != nil {
		in.ExpirationAt = *req.ExpirationAt
	}
	if req.Scheduled != nil {
		in.ExecutionPlan = station.ExecutionPlan{Kind: station.PlanScheduled, At: *req.Scheduled}
	}

	created, err := s.Engine.CreateRequest(ctx, in)
	if err != nil {
		writeEngineError(w, id, err)
		return
	}
	writeResult(w, id, requestToWire(created))
}

func (s *Server) handleGetRequest(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	rid, err := uuid.Parse(req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid request_id")
		return
	}
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceRequest, Action: station.ActionRead, ID: station.IDOf(rid)}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "Request::Read not allowed")
		return
	}
	r, ok := s.Engine.Repos.RequestByID(rid)
	if !ok {
		writeError(w, http.StatusNotFound, id, codeNotFound, "request not found")
		return
	}
	writeResult(w, id, requestToWire(r))
}

func (s *Server) handleListRequests(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		Status string `json:"status,omitempty"`
	}
	_ = decodeParams(params, &req)

	var all []*station.Request
	if req.Status != "" {
		if kind, ok := statusKindByName[req.Status]; ok {
			all = s.Engine.Repos.RequestsByStatus(kind)
		}
	} else {
		all = s.Engine.Repos.AllRequests()
	}

	out := make([]requestWire, 0, len(all))
	for _, r := range all {
		if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceRequest, Action: station.ActionRead, ID: station.IDOf(r.ID)}) {
			continue
		}
		out = append(out, requestToWire(r))
	}
	writeResult(w, id, out)
}

var statusKindByName = map[string]station.RequestStatusKind{
	"created":    station.StatusCreated,
	"approved":   station.StatusApproved,
	"rejected":   station.StatusRejected,
	"scheduled":  station.StatusScheduled,
	"processing": station.StatusProcessing,
	"completed":  station.StatusCompleted,
	"failed":     station.StatusFailed,
	"cancelled":  station.StatusCancelled,
}

func (s *Server) handleSubmitApproval(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		RequestID string `json:"request_id"`
		UserID    string `json:"user_id"`
		Decision  string `json:"decision"`
		Reason    string `json:"reason"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	rid, err := uuid.Parse(req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid request_id")
		return
	}
	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid user_id")
		return
	}
	var decision station.ApprovalDecision
	switch req.Decision {
	case "approved":
		decision = station.ApprovalApproved
	case "rejected":
		decision = station.ApprovalRejected
	default:
		writeError(w, http.StatusBadRequest, id, codeValidation, "decision must be approved or rejected")
		return
	}

	if err := s.Engine.SubmitApproval(ctx, rid, uid, decision, req.Reason); err != nil {
		writeEngineError(w, id, err)
		return
	}
	writeResult(w, id, map[string]any{"ok": true})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		RequestID string `json:"request_id"`
		Reason    string `json:"reason"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	rid, err := uuid.Parse(req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid request_id")
		return
	}
	if err := s.Engine.CancelRequest(ctx, rid, req.Reason); err != nil {
		writeEngineError(w, id, err)
		return
	}
	writeResult(w, id, map[string]any{"ok": true})
}

type requestWire struct {
	ID          string `json:"id"`
	RequestedBy string `json:"requested_by"`
	Operation   string `json:"operation"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func requestToWire(r *station.Request) requestWire {
	return requestWire{
		ID:          r.ID.String(),
		RequestedBy: r.RequestedBy.String(),
		Operation:   r.Operation.Kind.String(),
		Title:       r.Title,
		Status:      r.Status.Kind.String(),
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// --- accounts / transfers ---

func (s *Server) handleFetchAccountBalances(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		AccountIDs []string `json:"account_ids"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	if s.Bc == nil {
		writeError(w, http.StatusBadGateway, id, codeExternal, "no blockchain adapter configured")
		return
	}

	type balanceWire struct {
		AccountID string `json:"account_id"`
		Amount    uint64 `json:"amount"`
		AsOf      string `json:"as_of"`
	}
	out := make([]balanceWire, 0, len(req.AccountIDs))
	for _, raw := range req.AccountIDs {
		aid, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, id, codeValidation, "invalid account id "+raw)
			return
		}
		if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceAccount, Action: station.ActionRead, ID: station.IDOf(aid)}) {
			continue
		}
		bal, err := s.Bc.QueryBalance(context.Background(), aid)
		if err != nil {
			writeError(w, http.StatusBadGateway, id, codeExternal, err.Error())
			return
		}
		out = append(out, balanceWire{AccountID: aid.String(), Amount: bal.Amount, AsOf: bal.AsOf.UTC().Format(time.RFC3339)})
	}
	writeResult(w, id, out)
}

// --- permissions ---

func (s *Server) handleGetPermission(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		Resource resourceWire `json:"resource"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	res := req.Resource.toResource()
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourcePermission, Action: station.ActionRead, ID: station.AnyID()}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "Permission::Read not allowed")
		return
	}
	p, ok := s.Engine.Repos.GetPermission(res)
	if !ok {
		writeError(w, http.StatusNotFound, id, codeNotFound, "permission not found")
		return
	}
	writeResult(w, id, p)
}

func (s *Server) handleListPermissions(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourcePermission, Action: station.ActionList, ID: station.AnyID()}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "Permission::List not allowed")
		return
	}
	writeResult(w, id, s.Engine.Repos.AllPermissions())
}

// --- request policies ---

func (s *Server) handleGetRequestPolicy(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		PolicyID string `json:"policy_id"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	pid, err := uuid.Parse(req.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid policy_id")
		return
	}
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceRequestPolicy, Action: station.ActionRead, ID: station.IDOf(pid)}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "RequestPolicy::Read not allowed")
		return
	}
	p, ok := s.Engine.Repos.PolicyByID(pid)
	if !ok {
		writeError(w, http.StatusNotFound, id, codeNotFound, "policy not found")
		return
	}
	writeResult(w, id, p)
}

func (s *Server) handleListRequestPolicies(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	if !s.Engine.Authz.IsAllowed(ctx, station.Resource{Kind: station.ResourceRequestPolicy, Action: station.ActionList, ID: station.AnyID()}) {
		writeError(w, http.StatusForbidden, id, codeAuthorization, "RequestPolicy::List not allowed")
		return
	}
	writeResult(w, id, s.Engine.Repos.AllPolicies())
}

// --- external canisters ---

func (s *Server) handleCanisterStatus(w http.ResponseWriter, id any, ctx station.Context, params json.RawMessage) {
	var req struct {
		CanisterID string `json:"canister_id"`
	}
	if err := decodeParams(params, &req); err != nil {
		writeError(w, http.StatusBadRequest, id, codeValidation, "invalid params")
		return
	}
	if s.Cm == nil {
		writeError(w, http.StatusBadGateway, id, codeExternal, "no canister manager configured")
		return
	}
	status, err := s.Cm.Status(context.Background(), req.CanisterID)
	if err != nil {
		writeError(w, http.StatusBadGateway, id, codeExternal, err.Error())
		return
	}
	writeResult(w, id, map[string]any{"canister_id": req.CanisterID, "status": status})
}
