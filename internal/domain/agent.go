package domain

// Agent is a logged-in human operator.
type Agent struct {
	ID             string
	Login          string
	Profile        string
	Skills         []string
	SecurityLevel  int
	DefaultRing    RingPath
	PasswordHash   string
}

// Skill names a capability an agent can be matched against when routing.
type Skill string

// ReleaseOption is one of the release (go-unavailable) reasons an agent can
// pick, with a routing bias applied while released.
type ReleaseOption struct {
	Label string
	ID    string
	Bias  int // -1, 0, or 1
}

// Client is the tenant/brand configuration record consulted for channel
// construction (autoend_wrapup) and brand/queue listings. The durable
// version of this record lives in the tenant config store, out of scope
// per spec.md §1; this struct is the shape both the in-memory test double
// and the sqlite-backed reference store produce.
type Client struct {
	ID              string
	Brand           string
	Queues          []string
	AutoendWrapup   int // seconds; 0 disables the auto-wrapup timer
}
