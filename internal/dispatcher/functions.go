package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yoonka/acdctl/internal/connection"
)

// apiFunc is one entry of the dispatch table: every function name, whether
// reached via POST /api or a legacy path, resolves to the same apiFunc and
// receives the same positional argument list.
type apiFunc func(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any)

// publicFunctions are reachable before login, per spec.md §4.2's pre-login
// operation set.
var publicFunctions = map[string]bool{
	"check_cookie":    true,
	"get_salt":        true,
	"login":           true,
	"get_queue_list":  true,
	"get_brand_list":  true,
	"get_release_opts": true,
}

func (d *Dispatcher) buildFunctionTable() map[string]apiFunc {
	t := map[string]apiFunc{
		"check_cookie":     fnCheckCookie,
		"get_salt":         fnGetSalt,
		"login":            fnLogin,
		"logout":           fnLogout,
		"poll":             fnPoll,
		"get_queue_list":   fnGetQueueList,
		"get_brand_list":   fnGetBrandList,
		"get_release_opts": fnGetReleaseOpts,
		"get_avail_agents": fnGetAvailAgents,
		"dial":             fnDial,
		"init_outbound":    fnInitOutbound,
		"ack":              fnAck,
		"err":              fnErr,
		"oncall":           fnOncall,
		"wrapup":           fnWrapup,
		"stop":             fnStop,
		"state":            fnState,
		"set_release":      fnSetRelease,
		"go_available":     fnGoAvailable,
		"warm_transfer":         fnWarmTransfer,
		"warm_transfer_complete": fnWarmTransferComplete,
		"warm_transfer_cancel":   fnWarmTransferCancel,
		"queue_transfer":   fnQueueTransfer,
		"agent_transfer":   fnAgentTransfer,
		"media_push":       fnMediaPush,
		"supervisor":       fnSupervisor,
	}
	return t
}

// apiRequestBody is the JSON shape POSTed to /api, per spec.md §6:
// {function: string, args: array}.
type apiRequestBody struct {
	Function string `json:"function"`
	Args     []any  `json:"args"`
}

// handleAPI is the single JSON entry point; every legacy path resolves to
// the same function table this reaches.
func (d *Dispatcher) handleAPI(w http.ResponseWriter, r *http.Request) {
	var body apiRequestBody

	if err := r.ParseForm(); err == nil && r.PostForm.Get("request") != "" {
		if err := json.Unmarshal([]byte(r.PostForm.Get("request")), &body); err != nil {
			writeError(w, ErrUnknown, "malformed request")
			return
		}
	} else if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, ErrUnknown, "malformed request")
		return
	}

	if body.Function == "" {
		writeError(w, ErrNoFunction, "no function specified")
		return
	}

	d.dispatch(w, r, body.Function, body.Args)
}

// legacyNoArgs wraps a function name with no URL-embedded arguments.
func (d *Dispatcher) legacyNoArgs(function string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.dispatch(w, r, function, nil)
	}
}

// legacyPositional wraps a function name with chi URL params collected, in
// order, into the same positional args list /api's JSON args array uses.
func (d *Dispatcher) legacyPositional(function string, params ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		args := make([]any, len(params))
		for i, p := range params {
			args[i] = chi.URLParam(r, p)
		}
		d.dispatch(w, r, function, args)
	}
}

// handleSupervisor forwards every /supervisor/* path as a single
// "supervisor" function call, with the remaining path as its one argument.
func (d *Dispatcher) handleSupervisor(w http.ResponseWriter, r *http.Request) {
	d.dispatch(w, r, "supervisor", []any{chi.URLParam(r, "*")})
}

// dispatch resolves a function name to its handler and runs it under the
// session established (or minted) for this request, per spec.md §6's
// "legacy paths are parsed into typed commands and dispatched identically
// to the JSON API."
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, function string, args []any) {
	sessionID, err := d.sessionCookie(w, r)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, ErrUnknown, "failed to establish session")
		return
	}

	fn, ok := d.functions[function]
	if !ok {
		writeError(w, ErrFunctionNoexists, "no such function: "+function)
		return
	}

	if !publicFunctions[function] {
		d.mu.RLock()
		worker := d.connections[sessionID]
		d.mu.RUnlock()
		if worker == nil || !worker.Alive() {
			writeErrorStatus(w, http.StatusForbidden, ErrNoAgent, "no live connection for this session")
			return
		}
		worker.KeepAlive()
	}

	fn(d, w, r, sessionID, args)
}

// forwardToConnection is the common path for verbs the connection worker's
// allowlisted api(verb, payload) accepts, per spec.md §9's explicit
// allowlist decision.
func forwardToConnection(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID, verb string, payload any) {
	d.mu.RLock()
	worker := d.connections[sessionID]
	d.mu.RUnlock()

	if worker == nil {
		writeErrorStatus(w, http.StatusForbidden, ErrNoAgent, "no live connection for this session")
		return
	}

	result, err := worker.Api(r.Context(), verb, payload)
	if err != nil {
		if err == connection.ErrFunctionNotExists {
			writeError(w, ErrFunctionNoexists, "no such function: "+verb)
			return
		}
		writeError(w, ErrUnknown, "request failed")
		return
	}

	if result == nil {
		writeOK(w)
		return
	}
	writeResult(w, result)
}

func argString(args []any, i int) string {
	if i < 0 || i >= len(args) || args[i] == nil {
		return ""
	}
	if s, ok := args[i].(string); ok {
		return s
	}
	return ""
}

func fnDial(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "dial", map[string]string{"number": argString(args, 0)})
}

func fnInitOutbound(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "init_outbound", map[string]string{
		"client": argString(args, 0),
		"type":   argString(args, 1),
	})
}

func fnAck(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "ack", map[string]string{"n": argString(args, 0)})
}

func fnErr(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "err", map[string]string{
		"n":   argString(args, 0),
		"msg": argString(args, 1),
	})
}

func fnOncall(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "oncall", nil)
}

func fnWrapup(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "wrapup", nil)
}

func fnStop(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "stop", nil)
}

func fnState(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "state", map[string]string{
		"s": argString(args, 0),
		"d": argString(args, 1),
	})
}

func fnSetRelease(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "set_release", argString(args, 0))
}

func fnGoAvailable(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "go_available", nil)
}

func fnWarmTransfer(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "warm_transfer", map[string]string{"n": argString(args, 0)})
}

func fnWarmTransferComplete(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "warm_transfer_complete", map[string]string{"n": argString(args, 0)})
}

func fnWarmTransferCancel(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "warm_transfer_cancel", map[string]string{"n": argString(args, 0)})
}

func fnQueueTransfer(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "queue_transfer", map[string]string{"n": argString(args, 0)})
}

func fnAgentTransfer(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "agent_transfer", map[string]string{
		"id":   argString(args, 0),
		"case": argString(args, 1),
	})
}

func fnMediaPush(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "media_push", argString(args, 0))
}

func fnSupervisor(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	forwardToConnection(d, w, r, sessionID, "supervisor", argString(args, 0))
}

func fnGetAvailAgents(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snapshots := make([]any, 0, len(d.agents))
	for _, fsm := range d.agents {
		snapshots = append(snapshots, fsm.Snapshot())
	}
	writeResult(w, snapshots)
}

func fnGetQueueList(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	names, err := d.store.Queues(r.Context())
	if err != nil {
		writeError(w, ErrUnknown, "failed to list queues")
		return
	}
	writeResult(w, names)
}

func fnGetBrandList(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	clients, err := d.store.Clients(r.Context())
	if err != nil {
		writeError(w, ErrUnknown, "failed to list brands")
		return
	}
	writeResult(w, clients)
}

func fnGetReleaseOpts(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	opts, err := d.store.ReleaseOptions(r.Context())
	if err != nil {
		writeError(w, ErrUnknown, "failed to list release options")
		return
	}
	writeResult(w, opts)
}
