// Package sessiontable implements the process-wide concurrent mapping from
// session cookie to authentication state and live connection worker,
// per spec.md §4.1.
package sessiontable

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/yoonka/acdctl/internal/domain"
)

// ErrBadCookie is returned by Lookup when the cookie names no live entry.
var ErrBadCookie = errors.New("sessiontable: bad cookie")

type entry struct {
	salt       string
	connection domain.ConnectionRef
}

// Table is an atomic-insert/lookup/delete map keyed by session id. It is
// the only component in this system requiring concurrent direct access
// from request handlers (spec.md §5); every other component is a
// single-threaded task reached by message passing.
type Table struct {
	mu   sync.RWMutex
	rows map[string]*entry
}

// New creates an empty session table.
func New() *Table {
	return &Table{rows: make(map[string]*entry)}
}

// IssueSession mints a fresh session id, inserts an empty row, and returns
// the id. Used whenever a request arrives with no cookie, a malformed
// cookie, or a cookie pointing at a removed entry.
func (t *Table) IssueSession() (string, error) {
	id, err := randomToken(16) // >=128 bits, well over the 64-bit entropy floor
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	t.rows[id] = &entry{}
	t.mu.Unlock()

	return id, nil
}

// BindSalt generates a fresh 32-bit salt string for the session and
// overwrites any prior salt — the login handshake is one-shot per salt
// (spec.md §4.2.1: two consecutive get_salt calls invalidate the prior
// salt).
func (t *Table) BindSalt(sessionID string) (string, error) {
	salt, err := randomDecimal32()
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.rows[sessionID]
	if !ok {
		return "", ErrBadCookie
	}
	e.salt = salt
	e.connection = nil
	return salt, nil
}

// BindConnection sets the connection for a session whose salt matches.
// The caller guarantees the worker is alive at call time. The table does
// not watch the worker itself; a dead worker's row is reclaimed by Remove
// or ReapDead.
func (t *Table) BindConnection(sessionID, salt string, conn domain.ConnectionRef) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.rows[sessionID]
	if !ok {
		return ErrBadCookie
	}
	if e.salt != salt {
		return ErrBadCookie
	}
	e.connection = conn
	return nil
}

// Lookup resolves a cookie list to a live session row. Returns ErrBadCookie
// if no cookie in the list maps to a present row.
func (t *Table) Lookup(cookieValues []string) (domain.Session, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, id := range cookieValues {
		if e, ok := t.rows[id]; ok {
			return domain.Session{ID: id, Salt: e.salt, Connection: e.connection}, nil
		}
	}
	return domain.Session{}, ErrBadCookie
}

// Connection returns the live connection bound to a session id, if any.
func (t *Table) Connection(sessionID string) (domain.ConnectionRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.rows[sessionID]
	if !ok || e.connection == nil {
		return nil, false
	}
	return e.connection, true
}

// Revoke clears the salt and connection on logout but keeps the id usable —
// the cookie stays valid, just logged out.
func (t *Table) Revoke(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.rows[sessionID]; ok {
		e.salt = ""
		e.connection = nil
	}
}

// ReapDead removes every session entry bound to a connection that is no
// longer alive, in one locked pass. It is a full-table sweep; the
// dispatcher's worker-death callback removes a single known id with
// Remove instead.
func (t *Table) ReapDead() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.rows {
		if e.connection != nil && !e.connection.Alive() {
			delete(t.rows, id)
		}
	}
}

// Remove deletes a single session id unconditionally. Used when a specific
// worker is known to have died and its session id is known directly,
// avoiding a full table scan.
func (t *Table) Remove(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, sessionID)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

// randomDecimal32 returns a printable decimal string derived from 32
// random bits, matching spec.md §4.1's "generates a random 32-bit salt
// string."
func randomDecimal32() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(buf[:])
	return uint32ToDecimal(n), nil
}

func uint32ToDecimal(n uint32) string {
	if n == 0 {
		return "0"
	}
	var digits [10]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
