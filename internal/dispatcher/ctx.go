package dispatcher

import (
	"context"
	"net/http"
	"time"
)

// contextWithTimeout derives a bounded context from the request's context,
// used for the poll suspension point (spec.md §5).
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
