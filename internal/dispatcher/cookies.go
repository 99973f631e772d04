package dispatcher

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// sessionCookie returns the dispatcher's session id for this request,
// minting a fresh one (and setting the cookie) if absent. Per spec.md §6,
// cpx_id is a session cookie with no expiry and path=/.
func (d *Dispatcher) sessionCookie(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(d.cfg.Session.CookieName); err == nil && c.Value != "" {
		if _, err := d.sessions.Lookup([]string{c.Value}); err == nil {
			return c.Value, nil
		}
	}

	id, err := d.sessions.IssueSession()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:  d.cfg.Session.CookieName,
		Value: id,
		Path:  "/",
	})

	return id, nil
}

// setLangCookie negotiates cpx_lang against the Accept-Language header and
// the available nls/<lang>/labels.js directories under the agent static
// root, per spec.md §6.
func (d *Dispatcher) setLangCookie(w http.ResponseWriter, r *http.Request) {
	lang := negotiateLang(r.Header.Get("Accept-Language"), d.availableLangs())
	http.SetCookie(w, &http.Cookie{
		Name:  d.cfg.Session.LangCookieName,
		Value: lang,
		Path:  "/",
	})
}

// availableLangs scans www/agent/application/nls/<lang>/labels.js for
// every directory that carries a labels.js file.
func (d *Dispatcher) availableLangs() []string {
	nlsRoot := filepath.Join(d.cfg.Static.AgentRoot, "application", "nls")
	entries, err := os.ReadDir(nlsRoot)
	if err != nil {
		return nil
	}

	var langs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(nlsRoot, e.Name(), "labels.js")); err == nil {
			langs = append(langs, e.Name())
		}
	}
	return langs
}

// negotiateLang matches the first Accept-Language preference against the
// available set exactly, then by its language prefix (en-US -> en),
// falling back to "en" if nothing matches, per spec.md §6.
func negotiateLang(acceptLanguage string, available []string) string {
	avail := make(map[string]bool, len(available))
	for _, a := range available {
		avail[a] = true
	}

	for _, tag := range strings.Split(acceptLanguage, ",") {
		tag = strings.TrimSpace(strings.SplitN(tag, ";", 2)[0])
		if tag == "" {
			continue
		}
		if avail[tag] {
			return tag
		}
		if prefix, _, ok := strings.Cut(tag, "-"); ok && avail[prefix] {
			return prefix
		}
	}

	return "en"
}
