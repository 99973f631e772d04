// Package staticfiles implements the three-tier static file chain of
// spec.md §6: a request that isn't an API route is tried against the
// agent application root, then the contrib root, then the dynamic root,
// in that order, before falling through to a last-resort handler. It is
// grounded on the teacher's web/embed.go SPAHandler technique (open the
// candidate path, serve it if present, otherwise move to the next
// fallback) adapted from a single embedded FS to three http.Dir roots and
// from SPA index.html fallback to a final miss handler.
package staticfiles

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// Miss is invoked when none of the three roots have the requested path.
// A nil Miss passed to New becomes http.NotFound, which is what
// cmd/acdctld wires.
type Miss func(w http.ResponseWriter, r *http.Request)

// Handler serves the three static roots in order, falling through to Miss.
type Handler struct {
	tiers  []http.Dir
	miss   Miss
	logger *slog.Logger
}

// New builds a Handler for the agent/contrib/dynamic roots, in search
// order. Empty roots are skipped, so a deployment can omit the contrib or
// dynamic tier entirely.
func New(agentRoot, contribRoot, dynamicRoot string, miss Miss, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if miss == nil {
		miss = http.NotFound
	}

	var tiers []http.Dir
	for _, root := range []string{agentRoot, contribRoot, dynamicRoot} {
		if root != "" {
			tiers = append(tiers, http.Dir(root))
		}
	}

	return &Handler{tiers: tiers, miss: miss, logger: logger}
}

// ServeHTTP tries each root's http.FileServer in order; the first root
// that actually has the requested file serves it, otherwise Miss runs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.miss(w, r)
		return
	}

	for _, root := range h.tiers {
		if h.exists(root, r.URL.Path) {
			http.FileServer(root).ServeHTTP(w, r)
			return
		}
	}

	h.miss(w, r)
}

// exists reports whether the requested path resolves to a regular,
// readable file under root, without serving it — mirroring the teacher's
// "open the candidate, close it, then hand off to the real FileServer"
// existence check.
func (h *Handler) exists(root http.Dir, urlPath string) bool {
	name := filepath.Clean(urlPath)
	if name == "." || name == "/" {
		name = "/index.html"
	}

	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			h.logger.Debug("staticfiles: failed to close probed file", "path", name, "error", closeErr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err := root.Open(filepath.Join(name, "index.html"))
		return err == nil
	}

	return true
}

// rootExists is a small helper used at startup to warn about misconfigured
// roots without failing the server — a missing contrib/dynamic root is
// valid (those tiers are optional), but a missing agent root is almost
// certainly a deployment mistake.
func rootExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WarnMissingRoots logs, at startup, any configured root directory that
// does not exist on disk.
func WarnMissingRoots(logger *slog.Logger, agentRoot, contribRoot, dynamicRoot string) {
	if logger == nil {
		logger = slog.Default()
	}
	if agentRoot != "" && !rootExists(agentRoot) {
		logger.Warn("staticfiles: agent root does not exist", "path", agentRoot)
	}
	if contribRoot != "" && !rootExists(contribRoot) {
		logger.Warn("staticfiles: contrib root does not exist", "path", contribRoot)
	}
	if dynamicRoot != "" && !rootExists(dynamicRoot) {
		logger.Warn("staticfiles: dynamic root does not exist", "path", dynamicRoot)
	}
}
