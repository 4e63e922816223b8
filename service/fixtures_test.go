package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/keychain/adapters/broadcast"
	"github.com/layer-3/keychain/adapters/store"
	"github.com/layer-3/keychain/adapters/tokenizer"
	"github.com/layer-3/keychain/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testOrigin  = "https://app.example"
	testAddress = "0x0123abc"
)

var (
	policyTransfer = core.Policy{Target: "0x049d36", Method: "transfer"}
	policyApprove  = core.Policy{Target: "0x049d36", Method: "approve"}
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now().Truncate(time.Second)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSurface struct {
	views chan core.View
	err   error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{views: make(chan core.View, 8)}
}

func (s *fakeSurface) Present(_ context.Context, view core.View) error {
	if s.err != nil {
		return s.err
	}
	s.views <- view
	return nil
}

// next waits for the next presented view.
func (s *fakeSurface) next(t *testing.T) core.View {
	t.Helper()
	select {
	case v := <-s.views:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("no view presented")
		return core.View{}
	}
}

func (s *fakeSurface) presented() int { return len(s.views) }

type fakeHooks struct {
	sessionCreated atomic.Int32
	openApproval   atomic.Int32
	err            error
}

func (h *fakeHooks) SessionCreated(context.Context, string) error {
	h.sessionCreated.Add(1)
	return h.err
}

func (h *fakeHooks) OpenApproval(context.Context, string) error {
	h.openApproval.Add(1)
	return h.err
}

type fakeAccount struct {
	mu         sync.Mutex
	hasSession bool
	executed   [][]core.Call
	details    []core.ExecuteDetails
	signed     int
	revoked    int
	revokeErr  error

	// When set, Execute reports on started and blocks until release is closed.
	started chan struct{}
	release chan struct{}
}

func (a *fakeAccount) Execute(_ context.Context, calls []core.Call, details core.ExecuteDetails) (string, error) {
	a.mu.Lock()
	a.executed = append(a.executed, calls)
	a.details = append(a.details, details)
	a.mu.Unlock()

	if a.started != nil {
		a.started <- struct{}{}
		<-a.release
	}
	return "0xtx", nil
}

func (a *fakeAccount) blockExecute() {
	a.started = make(chan struct{}, 4)
	a.release = make(chan struct{})
}

func (a *fakeAccount) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-a.started:
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not start")
	}
}

func (a *fakeAccount) SignMessage(context.Context, core.TypedData) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signed++
	return []string{"0x1", "0x2"}, nil
}

func (a *fakeAccount) HasSession(context.Context, []core.Call) (bool, error) {
	return a.hasSession, nil
}

func (a *fakeAccount) SessionJSON(context.Context) (json.RawMessage, error) {
	return json.RawMessage("{}"), nil
}

func (a *fakeAccount) RevokeSession(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked++
	return a.revokeErr
}

func (a *fakeAccount) GetNonce(context.Context) (string, error) { return "0x0", nil }

func (a *fakeAccount) executions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.executed)
}

func (a *fakeAccount) lastDetails() core.ExecuteDetails {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.details) == 0 {
		return core.ExecuteDetails{}
	}
	return a.details[len(a.details)-1]
}

func (a *fakeAccount) signatures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signed
}

type fakeHeadless struct {
	outcome core.HeadlessOutcome
	err     error
}

func (h *fakeHeadless) Authenticate(context.Context, string, []core.Policy, core.HeadlessCredential) (core.HeadlessOutcome, error) {
	return h.outcome, h.err
}

type fixture struct {
	kc          *Keychain
	storage     *Storage
	mem         *store.MemoryStore
	account     *fakeAccount
	surface     *fakeSurface
	hooks       *fakeHooks
	headless    *fakeHeadless
	broadcaster *broadcast.Broadcaster
	tokenizer   *tokenizer.JWTTokenizer
	clock       *testClock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	f := &fixture{
		mem:         store.NewMemoryStore(),
		account:     &fakeAccount{},
		surface:     newFakeSurface(),
		hooks:       &fakeHooks{},
		headless:    &fakeHeadless{},
		broadcaster: broadcast.New(pubSub, pubSub, zerolog.Nop()),
		tokenizer:   tokenizer.NewJWTTokenizer(key),
		clock:       newTestClock(),
	}
	f.storage = NewStorage(f.mem)
	f.kc = NewKeychain(Dependencies{
		Store:       f.mem,
		Account:     f.account,
		Surface:     f.surface,
		Hooks:       f.hooks,
		Broadcaster: f.broadcaster,
		Tokenizer:   f.tokenizer,
		Headless:    f.headless,
	}, cfg, zerolog.Nop(), WithClock(f.clock.now))
	return f
}

func (f *fixture) approvalToken(t *testing.T, a *core.Approval) string {
	t.Helper()
	token, err := f.tokenizer.ApprovalToToken(a)
	require.NoError(t, err)
	return token
}

func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	require.NoError(t, f.storage.SaveController(context.Background(), &core.Controller{Username: "alice", Address: testAddress}))
}

func (f *fixture) grant(t *testing.T, expiresAt int64, policies ...core.Policy) {
	t.Helper()
	sess := &core.Session{Policies: policies, ExpiresAt: expiresAt, SessionKeyPublic: "0xpub"}
	data := mustJSON(t, sess)
	require.NoError(t, f.mem.Set(context.Background(), core.SessionKey(testAddress, testOrigin), data, 0))
}

type outcome struct {
	res *core.Result
	err error
}

// async runs fn and returns a channel with its outcome.
func async(fn func() (*core.Result, error)) <-chan outcome {
	out := make(chan outcome, 1)
	go func() {
		res, err := fn()
		out <- outcome{res, err}
	}()
	return out
}

func wait(t *testing.T, out <-chan outcome) (*core.Result, error) {
	t.Helper()
	select {
	case o := <-out:
		return o.res, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("request did not settle")
		return nil, nil
	}
}

var errBoom = errors.New("boom")
