package dispatcher

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yoonka/acdctl/internal/agentfsm"
	"github.com/yoonka/acdctl/internal/authstore"
	"github.com/yoonka/acdctl/internal/cdr"
	"github.com/yoonka/acdctl/internal/channelfsm"
	"github.com/yoonka/acdctl/internal/config"
	"github.com/yoonka/acdctl/internal/configstore"
	"github.com/yoonka/acdctl/internal/connection"
	"github.com/yoonka/acdctl/internal/endpoint"
	"github.com/yoonka/acdctl/internal/events"
	"github.com/yoonka/acdctl/internal/queue"
	"github.com/yoonka/acdctl/internal/rsakeys"
	"github.com/yoonka/acdctl/internal/sessiontable"
)

// StaticFallback serves GET requests the router has no other route for,
// per spec.md §6's three-tier static file chain. Wired to
// internal/staticfiles.Handler; kept as an interface here so dispatcher
// does not import staticfiles directly (it is the outermost layer).
type StaticFallback interface {
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// Dispatcher is the HTTP front door: chi router, session/cookie handling,
// the login handshake, and the `/api` + legacy-path dual entry point.
type Dispatcher struct {
	cfg      *config.Config
	sessions *sessiontable.Table
	rsa      *rsakeys.KeyPair
	auth     authstore.Store
	store    configstore.Store
	queueMgr *queue.Manager
	sink     cdr.Sink
	evMgr    *events.Manager
	epMgr    *endpoint.Manager
	static   StaticFallback
	logger   *slog.Logger

	mu          sync.RWMutex
	connections map[string]*connection.Worker      // session id -> worker
	agents      map[string]*agentfsm.FSM           // session id -> agent FSM
	channels    map[string]*channelfsm.Channel     // session id -> current channel, if any

	functions map[string]apiFunc
}

// New constructs a Dispatcher wired to its collaborators.
func New(
	cfg *config.Config,
	sessions *sessiontable.Table,
	rsa *rsakeys.KeyPair,
	auth authstore.Store,
	store configstore.Store,
	queueMgr *queue.Manager,
	sink cdr.Sink,
	evMgr *events.Manager,
	epMgr *endpoint.Manager,
	static StaticFallback,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:         cfg,
		sessions:    sessions,
		rsa:         rsa,
		auth:        auth,
		store:       store,
		queueMgr:    queueMgr,
		sink:        sink,
		evMgr:       evMgr,
		epMgr:       epMgr,
		static:      static,
		logger:      logger,
		connections: make(map[string]*connection.Worker),
		agents:      make(map[string]*agentfsm.FSM),
		channels:    make(map[string]*channelfsm.Channel),
	}

	d.functions = d.buildFunctionTable()

	return d
}

// Router builds the chi router: middleware stack, the /api endpoint, and
// every legacy path dispatched identically to it, per spec.md §6.
func (d *Dispatcher) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Post("/api", d.handleAPI)

	r.Get("/login", d.legacyNoArgs("login"))
	r.Post("/login", d.legacyNoArgs("login"))
	r.Get("/getsalt", d.legacyNoArgs("get_salt"))
	r.Get("/checkcookie", d.legacyNoArgs("check_cookie"))
	r.Get("/poll", d.legacyNoArgs("poll"))
	r.Get("/logout", d.legacyNoArgs("logout"))
	r.Get("/brandlist", d.legacyNoArgs("get_brand_list"))
	r.Get("/queuelist", d.legacyNoArgs("get_queue_list"))
	r.Get("/releaseopts", d.legacyNoArgs("get_release_opts"))
	r.Get("/get_avail_agents", d.legacyNoArgs("get_avail_agents"))

	r.Get("/state/{s}", d.legacyPositional("state", "s"))
	r.Get("/state/{s}/{d}", d.legacyPositional("state", "s", "d"))
	r.Get("/ack/{n}", d.legacyPositional("ack", "n"))
	r.Get("/err/{n}", d.legacyPositional("err", "n"))
	r.Get("/err/{n}/{msg}", d.legacyPositional("err", "n", "msg"))
	r.Get("/dial/{n}", d.legacyPositional("dial", "n"))
	r.Get("/agent_transfer/{id}", d.legacyPositional("agent_transfer", "id"))
	r.Get("/agent_transfer/{id}/{case}", d.legacyPositional("agent_transfer", "id", "case"))
	r.Post("/mediapush", d.legacyNoArgs("media_push"))
	r.Get("/warm_transfer/{n}", d.legacyPositional("warm_transfer", "n"))
	r.Get("/warm_transfer_complete/{n}", d.legacyPositional("warm_transfer_complete", "n"))
	r.Get("/warm_transfer_cancel/{n}", d.legacyPositional("warm_transfer_cancel", "n"))
	r.Get("/queue_transfer/{n}", d.legacyPositional("queue_transfer", "n"))
	r.Get("/init_outbound/{client}/{type}", d.legacyPositional("init_outbound", "client", "type"))
	r.Get("/supervisor/*", d.handleSupervisor)

	if d.static != nil {
		r.NotFound(d.static.ServeHTTP)
	}

	return r
}

// pollTimeout is the bound on a single long-poll wait, per spec.md §5.
func (d *Dispatcher) pollTimeout() time.Duration {
	if d.cfg.Session.PollTimeout <= 0 {
		return 30 * time.Second
	}
	return d.cfg.Session.PollTimeout
}
