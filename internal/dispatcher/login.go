package dispatcher

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/yoonka/acdctl/internal/agentfsm"
	"github.com/yoonka/acdctl/internal/channelfsm"
	"github.com/yoonka/acdctl/internal/connection"
	"github.com/yoonka/acdctl/internal/domain"
)

// fnCheckCookie implements spec.md §4.2's check_cookie: a live connection
// for this session reports the agent snapshot; otherwise NO_AGENT.
func fnCheckCookie(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	d.mu.RLock()
	fsm, ok := d.agents[sessionID]
	d.mu.RUnlock()

	if !ok {
		writeError(w, ErrNoAgent, "no agent logged in on this session")
		return
	}
	writeResult(w, fsm.Snapshot())
}

// fnGetSalt implements get_salt (spec.md §4.2.1 step 1-2): binds a fresh
// salt to the session and returns it alongside the cached key's public
// components so the client can encrypt its login ciphertext.
func fnGetSalt(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	salt, err := d.sessions.BindSalt(sessionID)
	if err != nil {
		writeErrorStatus(w, http.StatusForbidden, ErrBadCookie, "no session to bind a salt to")
		return
	}

	e, n := d.rsa.PublicExponentModulus()
	writeResult(w, map[string]any{
		"salt": salt,
		"e":    e,
		"n":    base64.StdEncoding.EncodeToString(n),
	})
}

// normalizeEndpointKind fixes spec.md §9's sip_registation typo: the
// malformed spelling is never accepted, only normalised.
func normalizeEndpointKind(kind string) domain.EndpointKind {
	if kind == "sip_registation" {
		kind = "sip_registration"
	}
	switch domain.EndpointKind(kind) {
	case domain.EndpointSIPRegistration, domain.EndpointSIP, domain.EndpointIAX2, domain.EndpointH323, domain.EndpointPSTN:
		return domain.EndpointKind(kind)
	default:
		return domain.EndpointSIP
	}
}

// fnLogin implements the full login handshake of spec.md §4.2.1:
//
//	args[0] username
//	args[1] base64 RSA ciphertext of salt‖password
//	args[2] endpoint kind
//	args[3] endpoint data
//	args[4] "1" to request outband ring, anything else inband
func fnLogin(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	username := argString(args, 0)
	ciphertextB64 := argString(args, 1)

	session, err := d.sessions.Lookup([]string{sessionID})
	if err != nil || session.Salt == "" {
		writeError(w, ErrNoSalt, "get_salt must be called before login")
		return
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		writeError(w, ErrDecryptFailed, "malformed ciphertext")
		return
	}

	plain, err := d.rsa.Decrypt(ciphertext)
	if err != nil {
		writeError(w, ErrDecryptFailed, "decryption failed")
		return
	}

	if !strings.HasPrefix(string(plain), session.Salt) {
		writeError(w, ErrNoSalt, "salt mismatch")
		return
	}
	password := strings.TrimPrefix(string(plain), session.Salt)

	agent, err := d.auth.Authenticate(r.Context(), username, password)
	if err != nil {
		writeError(w, ErrAuthFailed, "authentication failed")
		return
	}

	opts := domain.EndpointOptions{
		Kind:           normalizeEndpointKind(argString(args, 2)),
		Data:           argString(args, 3),
		UseOutbandRing: argString(args, 4) == "1",
	}

	fsm := agentfsm.New(agent)

	// The agent FSM's death must terminate every channel it still owns
	// (spec.md §5's linked-lifetime guarantee) — otherwise a logout or a
	// lost connection leaks the channel, its endpoint driver, and any
	// wrapup timer, and no CDR record is ever emitted for it.
	fsm.OnDeath(func() {
		for _, ch := range fsm.Channels() {
			_ = ch.Handle(channelfsm.Event{Kind: channelfsm.EventStop, Source: channelfsm.SourceConnection})
		}
	})

	worker := connection.New(sessionID, d.cfg.Session.IdleTimeout, d.buildConnectionAPI(sessionID, fsm, opts), func() {
		d.onConnectionDeath(sessionID)
	}, d.logger)

	if err := d.sessions.BindConnection(sessionID, session.Salt, worker); err != nil {
		worker.Kill()
		writeErrorStatus(w, http.StatusForbidden, ErrBadCookie, "session no longer valid")
		return
	}

	d.mu.Lock()
	d.connections[sessionID] = worker
	d.agents[sessionID] = fsm
	d.mu.Unlock()

	d.setLangCookie(w, r)
	writeResult(w, fsm.Snapshot())
}

// fnLogout implements logout: kills the connection worker and revokes the
// session's salt/connection binding, keeping the cookie id itself usable.
func fnLogout(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	d.mu.Lock()
	worker := d.connections[sessionID]
	fsm := d.agents[sessionID]
	delete(d.connections, sessionID)
	delete(d.agents, sessionID)
	delete(d.channels, sessionID)
	d.mu.Unlock()

	if fsm != nil {
		fsm.Die()
	}
	if worker != nil {
		worker.Kill()
	}
	d.sessions.Revoke(sessionID)

	writeOK(w)
}

// fnPoll implements poll: suspends on the connection worker's event queue
// until an event arrives or the bounded wait expires (HTTP 408), per
// spec.md §5/§6.
func fnPoll(d *Dispatcher, w http.ResponseWriter, r *http.Request, sessionID string, args []any) {
	d.mu.RLock()
	worker := d.connections[sessionID]
	d.mu.RUnlock()

	if worker == nil {
		writeErrorStatus(w, http.StatusForbidden, ErrNoAgent, "no live connection for this session")
		return
	}

	ctx, cancel := contextWithTimeout(r, d.pollTimeout())
	defer cancel()

	res := worker.Poll(ctx)
	switch res.Outcome {
	case connection.PollEvent:
		writeResult(w, res.Body)
	case connection.PollKilled:
		writeErrorStatus(w, http.StatusRequestTimeout, ErrUnknown, "poll timed out or session ended")
	}
}

func (d *Dispatcher) onConnectionDeath(sessionID string) {
	d.mu.Lock()
	delete(d.connections, sessionID)
	fsm := d.agents[sessionID]
	delete(d.agents, sessionID)
	delete(d.channels, sessionID)
	d.mu.Unlock()

	if fsm != nil {
		fsm.Die()
	}
	d.sessions.Remove(sessionID)
}
