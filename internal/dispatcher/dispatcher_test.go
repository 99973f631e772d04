package dispatcher

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yoonka/acdctl/internal/authstore"
	"github.com/yoonka/acdctl/internal/cdr"
	"github.com/yoonka/acdctl/internal/config"
	"github.com/yoonka/acdctl/internal/configstore"
	"github.com/yoonka/acdctl/internal/domain"
	"github.com/yoonka/acdctl/internal/endpoint"
	"github.com/yoonka/acdctl/internal/events"
	"github.com/yoonka/acdctl/internal/queue"
	"github.com/yoonka/acdctl/internal/rsakeys"
	"github.com/yoonka/acdctl/internal/sessiontable"
)

type fakeStore struct{}

func (fakeStore) Queues(ctx context.Context) ([]string, error) { return []string{"sales"}, nil }
func (fakeStore) QueueConfig(ctx context.Context, name string) (configstore.QueueConfig, bool, error) {
	return configstore.QueueConfig{}, false, nil
}
func (fakeStore) UpsertQueueConfig(ctx context.Context, cfg configstore.QueueConfig) error { return nil }
func (fakeStore) Clients(ctx context.Context) ([]domain.Client, error) {
	return []domain.Client{{ID: "acme", Brand: "Acme"}}, nil
}
func (fakeStore) Client(ctx context.Context, id string) (domain.Client, bool, error) {
	return domain.Client{}, false, nil
}
func (fakeStore) ReleaseOptions(ctx context.Context) ([]domain.ReleaseOption, error) {
	return []domain.ReleaseOption{{Label: "Lunch", ID: "lunch"}}, nil
}
func (fakeStore) Close() error { return nil }

type fakeSpawner struct{}

func (fakeSpawner) Spawn(ctx context.Context, d endpoint.Descriptor) (endpoint.Driver, error) {
	return &fakeDriver{exit: make(chan endpoint.ExitEvent, 1)}, nil
}

type fakeDriver struct{ exit chan endpoint.ExitEvent }

func (f *fakeDriver) ID() string                            { return "drv" }
func (f *fakeDriver) Oncall(ctx context.Context, c domain.Call) error { return nil }
func (f *fakeDriver) Wrapup(ctx context.Context) error       { return nil }
func (f *fakeDriver) Hangup(ctx context.Context) error       { return nil }
func (f *fakeDriver) Stop(ctx context.Context) error         { return nil }
func (f *fakeDriver) Exited() <-chan endpoint.ExitEvent      { return f.exit }

func writeTestRSAKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}

	path := filepath.Join(t.TempDir(), "key")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer f.Close()
	if err := pem.Encode(f, block); err != nil {
		t.Fatalf("encode key: %v", err)
	}
	return path
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	keyPath := writeTestRSAKey(t)
	rsaKeys, err := rsakeys.Load(keyPath)
	if err != nil {
		t.Fatalf("load rsa key: %v", err)
	}

	auth := authstore.NewInMemory()
	if err := auth.AddAgent(domain.Agent{Login: "alice", Profile: "voice"}, "hunter2"); err != nil {
		t.Fatalf("add agent: %v", err)
	}

	cfg := &config.Config{
		Session: config.SessionConfig{
			CookieName:     "cpx_id",
			LangCookieName: "cpx_lang",
			IdleTimeout:    time.Minute,
			PollTimeout:    500 * time.Millisecond,
		},
	}

	qm := queue.New("node-1", queue.NewLocalElector(), queue.NewStaticMembership(), fakeStore{}, nil, nil)
	t.Cleanup(qm.Close)

	epMgr := endpoint.NewManager(fakeSpawner{}, 1, time.Millisecond, nil)

	d := New(cfg, sessiontable.New(), rsaKeys, auth, fakeStore{}, qm, cdr.NewInMemory(), events.New(), epMgr, nil, nil)
	return d
}

// loginFlow drives get_salt then login against the router, returning the
// session cookie and the raw /api response body for login.
func loginFlow(t *testing.T, router http.Handler) (*http.Cookie, map[string]any) {
	t.Helper()

	saltReq := httptest.NewRequest(http.MethodGet, "/getsalt", nil)
	saltRec := httptest.NewRecorder()
	router.ServeHTTP(saltRec, saltReq)

	var saltResp struct {
		Success bool `json:"success"`
		Result  struct {
			Salt string `json:"salt"`
			E    int    `json:"e"`
			N    string `json:"n"`
		} `json:"result"`
	}
	if err := json.NewDecoder(saltRec.Body).Decode(&saltResp); err != nil {
		t.Fatalf("decode salt response: %v", err)
	}
	if !saltResp.Success {
		t.Fatalf("get_salt did not succeed")
	}

	var sessionCookie *http.Cookie
	for _, c := range saltRec.Result().Cookies() {
		if c.Name == "cpx_id" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected cpx_id cookie from get_salt")
	}

	nBytes, err := base64.StdEncoding.DecodeString(saltResp.Result.N)
	if err != nil {
		t.Fatalf("decode modulus: %v", err)
	}
	pub := &rsa.PublicKey{E: saltResp.Result.E, N: new(big.Int).SetBytes(nBytes)}

	plaintext := []byte(saltResp.Result.Salt + "hunter2")
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	body := map[string]any{
		"function": "login",
		"args":     []any{"alice", base64.StdEncoding.EncodeToString(ciphertext), "sip", "1001", ""},
	}
	raw, _ := json.Marshal(body)

	loginReq := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(string(raw)))
	loginReq.Header.Set("Content-Type", "application/json")
	for _, c := range saltRec.Result().Cookies() {
		loginReq.AddCookie(c)
	}

	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, loginReq)

	var loginResp map[string]any
	if err := json.NewDecoder(loginRec.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	return sessionCookie, loginResp
}

func TestCheckCookieBeforeLoginReportsNoAgent(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	req := httptest.NewRequest(http.MethodGet, "/checkcookie", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["success"] != false || resp["errcode"] != ErrNoAgent {
		t.Fatalf("expected NO_AGENT, got %+v", resp)
	}
}

func TestLoginHappyPath(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	_, loginResp := loginFlow(t, router)

	if loginResp["success"] != true {
		t.Fatalf("expected successful login, got %+v", loginResp)
	}
}

func TestUnknownFunctionReturnsFunctionNoexists(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	body := map[string]any{"function": "not_a_real_function", "args": []any{}}
	raw, _ := json.Marshal(body)

	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["errcode"] != ErrFunctionNoexists {
		t.Fatalf("expected FUNCTION_NOEXISTS, got %+v", resp)
	}
}

func TestNoFunctionSpecified(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(`{"args":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["errcode"] != ErrNoFunction {
		t.Fatalf("expected NO_FUNCTION, got %+v", resp)
	}
}

func TestDialThroughAPIStartsChannel(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	cookie, loginResp := loginFlow(t, router)
	if loginResp["success"] != true {
		t.Fatalf("login failed: %+v", loginResp)
	}

	dial := map[string]any{"function": "dial", "args": []any{"15551234567"}}
	raw, _ := json.Marshal(dial)
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(string(raw)))
	req.AddCookie(cookie)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var dialResp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&dialResp); err != nil {
		t.Fatalf("decode dial response: %v", err)
	}
	if dialResp["success"] != true {
		t.Fatalf("expected successful dial, got %+v", dialResp)
	}
}

// TestLoginWrongPasswordReportsAuthFailed exercises spec scenario 2: a
// ciphertext whose plaintext carries the correct salt prefix but the wrong
// password must fail at the credential check, not the salt check.
func TestLoginWrongPasswordReportsAuthFailed(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	saltReq := httptest.NewRequest(http.MethodGet, "/getsalt", nil)
	saltRec := httptest.NewRecorder()
	router.ServeHTTP(saltRec, saltReq)

	var saltResp struct {
		Success bool `json:"success"`
		Result  struct {
			Salt string `json:"salt"`
			E    int    `json:"e"`
			N    string `json:"n"`
		} `json:"result"`
	}
	if err := json.NewDecoder(saltRec.Body).Decode(&saltResp); err != nil {
		t.Fatalf("decode salt response: %v", err)
	}
	if !saltResp.Success {
		t.Fatalf("get_salt did not succeed")
	}

	nBytes, err := base64.StdEncoding.DecodeString(saltResp.Result.N)
	if err != nil {
		t.Fatalf("decode modulus: %v", err)
	}
	pub := &rsa.PublicKey{E: saltResp.Result.E, N: new(big.Int).SetBytes(nBytes)}

	// Correct salt prefix, wrong password.
	plaintext := []byte(saltResp.Result.Salt + "wrong-password")
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	body := map[string]any{
		"function": "login",
		"args":     []any{"alice", base64.StdEncoding.EncodeToString(ciphertext), "sip", "1001", ""},
	}
	raw, _ := json.Marshal(body)

	loginReq := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(string(raw)))
	loginReq.Header.Set("Content-Type", "application/json")
	for _, c := range saltRec.Result().Cookies() {
		loginReq.AddCookie(c)
	}

	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, loginReq)

	var loginResp map[string]any
	if err := json.NewDecoder(loginRec.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	if loginResp["success"] != false || loginResp["errcode"] != ErrAuthFailed {
		t.Fatalf("expected AUTH_FAILED, got %+v", loginResp)
	}
}

// TestLoginWithoutGetSaltReportsNoSalt exercises spec scenario 3: calling
// login before get_salt has bound a salt to the session must fail with
// NO_SALT, not attempt decryption.
func TestLoginWithoutGetSaltReportsNoSalt(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	// Establish a session cookie via check_cookie, without ever calling
	// get_salt for it.
	ccReq := httptest.NewRequest(http.MethodGet, "/checkcookie", nil)
	ccRec := httptest.NewRecorder()
	router.ServeHTTP(ccRec, ccReq)

	var sessionCookie *http.Cookie
	for _, c := range ccRec.Result().Cookies() {
		if c.Name == "cpx_id" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil {
		t.Fatal("expected cpx_id cookie from check_cookie")
	}

	body := map[string]any{
		"function": "login",
		"args":     []any{"alice", base64.StdEncoding.EncodeToString([]byte("irrelevant")), "sip", "1001", ""},
	}
	raw, _ := json.Marshal(body)

	loginReq := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(string(raw)))
	loginReq.Header.Set("Content-Type", "application/json")
	loginReq.AddCookie(sessionCookie)

	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, loginReq)

	var loginResp map[string]any
	if err := json.NewDecoder(loginRec.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}

	if loginResp["success"] != false || loginResp["errcode"] != ErrNoSalt {
		t.Fatalf("expected NO_SALT, got %+v", loginResp)
	}
}

func TestPollTimesOutWithoutEvent(t *testing.T) {
	d := newTestDispatcher(t)
	router := d.Router()

	cookie, loginResp := loginFlow(t, router)
	if loginResp["success"] != true {
		t.Fatalf("login failed: %+v", loginResp)
	}

	req := httptest.NewRequest(http.MethodGet, "/poll", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", rec.Code)
	}
}
