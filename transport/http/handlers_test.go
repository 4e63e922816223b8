package http_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/keychain/adapters/broadcast"
	"github.com/layer-3/keychain/adapters/store"
	"github.com/layer-3/keychain/adapters/tokenizer"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/service"
	khttp "github.com/layer-3/keychain/transport/http"
	"github.com/layer-3/keychain/transport/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "https://app.example"

type stubAccount struct{}

func (stubAccount) Execute(context.Context, []core.Call, core.ExecuteDetails) (string, error) {
	return "0xtx", nil
}
func (stubAccount) SignMessage(context.Context, core.TypedData) ([]string, error) {
	return []string{"0x1"}, nil
}
func (stubAccount) HasSession(context.Context, []core.Call) (bool, error)       { return true, nil }
func (stubAccount) SessionJSON(context.Context) (json.RawMessage, error)        { return nil, nil }
func (stubAccount) RevokeSession(context.Context) error                         { return nil }
func (stubAccount) GetNonce(context.Context) (string, error)                    { return "0x5", nil }
func (stubAccount) HashMessage(context.Context, core.TypedData) (string, error) { return "0xh", nil }
func (stubAccount) VerifyMessage(context.Context, core.TypedData, []string) (bool, error) {
	return true, nil
}
func (stubAccount) VerifyMessageHash(context.Context, string, []string) (bool, error) {
	return true, nil
}

type testServer struct {
	router    *gin.Engine
	storage   *service.Storage
	tokenizer *tokenizer.JWTTokenizer
	// surface carries a valid approval surface token.
	surface map[string]string
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemoryStore()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { pubSub.Close() })

	logger := zerolog.Nop()
	storage := service.NewStorage(mem)
	tk := tokenizer.NewJWTTokenizer(newKey(t))
	kc := service.NewKeychain(service.Dependencies{
		Store:       mem,
		Account:     stubAccount{},
		Broadcaster: broadcast.New(pubSub, pubSub, logger),
		Tokenizer:   tk,
	}, service.Config{}, logger)

	handlers := khttp.NewHandlers(
		kc,
		rpc.NewDispatcher(kc, stubAccount{}, stubAccount{}, logger),
		service.NewRedirectService(storage, "", logger),
		service.NewRegistrationService(storage, nil, "", logger),
		logger,
	)
	token, err := tk.SurfaceToken("approval-ui", time.Hour)
	require.NoError(t, err)

	return &testServer{
		router:    khttp.SetupRouter(handlers, tk, logger),
		storage:   storage,
		tokenizer: tk,
		surface:   bearer(token),
	}
}

func (s *testServer) do(t *testing.T, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestRPCProbe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/rpc", rpc.Envelope{Method: "probe", Origin: origin}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"method":"probe","result":{"code":"NOT_CONNECTED"}}`, rec.Body.String())
}

func TestRPCErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/rpc", rpc.Envelope{Method: "probe"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"method":"probe","error":"missing origin"}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/rpc", rpc.Envelope{Method: "probe", Origin: origin}, map[string]string{"Origin": "https://evil.example"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/rpc", rpc.Envelope{Method: "nope", Origin: origin}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/rpc", rpc.Envelope{
		Method: "execute",
		Origin: origin,
		Params: json.RawMessage(`{"calls":[{"contractAddress":"0x1","entrypoint":"f"}]}`),
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRPCUnauthenticatedMethod(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/rpc", rpc.Envelope{Method: "get-nonce", Origin: origin}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"method":"get-nonce","result":"0x5"}`, rec.Body.String())
}

func TestConnectApprovalRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/approval", nil, s.surface)
	require.Equal(t, http.StatusNotFound, rec.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- s.do(t, http.MethodPost, "/rpc", rpc.Envelope{
			Method: "connect",
			Origin: origin,
			Params: json.RawMessage(`{"policies":[{"target":"0x1","method":"transfer"}]}`),
		}, map[string]string{"Origin": origin})
	}()

	var view core.View
	require.Eventually(t, func() bool {
		rec := s.do(t, http.MethodGet, "/approval", nil, s.surface)
		if rec.Code != http.StatusOK {
			return false
		}
		view = decode[core.View](t, rec)
		return true
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, core.ViewLogin, view.Kind)
	assert.Equal(t, origin, view.Origin)

	rec = s.do(t, http.MethodPost, "/approval/approve", service.ApproveParams{
		Controller: &core.Controller{Username: "alice", Address: "0xabc"},
	}, s.surface)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"method":"connect","result":{"code":"SUCCESS","address":"0xabc","policies":[{"target":"0x1","method":"transfer"}]}}`, rec.Body.String())
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not finish")
	}

	rec = s.do(t, http.MethodPost, "/approval/cancel", nil, s.surface)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionReturn(t *testing.T) {
	s := newTestServer(t)

	token, err := service.EncodeRegistration(&core.SessionRegistration{
		Username:  "alice",
		Address:   "0xabc",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/session/return?tab=2&startapp="+token, nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/session/return?tab=2", rec.Header().Get("Location"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = s.do(t, http.MethodGet, "/session/return?tab=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "SUCCESS", body["code"])
	assert.Equal(t, "0xabc", body["address"])
}

func TestSessionReturnMalformedToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/session/return?startapp=%25%25", nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = s.do(t, http.MethodGet, "/session/return", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":"NOT_CONNECTED"}`, rec.Body.String())
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/session/register", service.RegistrationRequest{
		Origin:      origin,
		Username:    "alice",
		Address:     "0xabc",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
		RedirectURI: "https://app.example/back",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[service.RegistrationResult](t, rec)
	assert.Equal(t, service.RegistrationSucceeded, res.State)
	assert.True(t, strings.HasPrefix(res.RedirectURL, "https://app.example/back?startapp="))

	rec = s.do(t, http.MethodPost, "/session/register", service.RegistrationRequest{Origin: origin}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignal(t *testing.T) {
	s := newTestServer(t)
	signal := map[string]string{"origin": origin, "id": "req-1", "code": "CANCELED"}

	rec := s.do(t, http.MethodPost, "/signals", signal, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/signals", map[string]string{"origin": origin}, s.surface)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/signals", signal, s.surface)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSurfaceRoutesRequireSurfaceToken(t *testing.T) {
	s := newTestServer(t)

	now := time.Now()
	approvalToken, err := s.tokenizer.ApprovalToToken(&core.Approval{
		RequestID: "req-1",
		Origin:    origin,
		Address:   "0xabc",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	foreign, err := tokenizer.NewJWTTokenizer(newKey(t)).SurfaceToken("approval-ui", time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]map[string]string{
		"no header":      nil,
		"not bearer":     {"Authorization": "Basic YWxpY2U6"},
		"empty bearer":   {"Authorization": "Bearer "},
		"approval token": bearer(approvalToken),
		"foreign signer": bearer(foreign),
	} {
		for _, route := range []struct{ method, path string }{
			{http.MethodGet, "/approval"},
			{http.MethodPost, "/approval/approve"},
			{http.MethodPost, "/approval/cancel"},
			{http.MethodPost, "/approval/record"},
			{http.MethodPost, "/signals"},
		} {
			rec := s.do(t, route.method, route.path, map[string]string{}, header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s with %s", route.method, route.path, name)
		}
	}
}

func TestApplicationCannotApproveItsOwnConnect(t *testing.T) {
	s := newTestServer(t)
	app := map[string]string{"Origin": origin}

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- s.do(t, http.MethodPost, "/rpc", rpc.Envelope{
			Method: "connect",
			Origin: origin,
			Params: json.RawMessage(`{"policies":[{"target":"0x1","method":"transfer"}]}`),
		}, app)
	}()
	require.Eventually(t, func() bool {
		return s.do(t, http.MethodGet, "/approval", nil, s.surface).Code == http.StatusOK
	}, 5*time.Second, 5*time.Millisecond)

	rec := s.do(t, http.MethodPost, "/approval/approve", service.ApproveParams{
		Controller: &core.Controller{Username: "mallory", Address: "0xbad"},
	}, app)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/approval", nil, s.surface)
	require.Equal(t, http.StatusOK, rec.Code, "request is still pending")

	rec = s.do(t, http.MethodPost, "/approval/cancel", nil, s.surface)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case rec := <-done:
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"method":"connect","result":{"code":"CANCELED"}}`, rec.Body.String())
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not finish")
	}

	rec = s.do(t, http.MethodPost, "/rpc", rpc.Envelope{Method: "probe", Origin: origin}, app)
	assert.JSONEq(t, `{"method":"probe","result":{"code":"NOT_CONNECTED"}}`, rec.Body.String())
}

func TestRecordApproval(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	now := time.Now()
	approval := &core.Approval{
		RequestID:        "req-1",
		Origin:           origin,
		Address:          "0xabc",
		SessionExpiresAt: now.Add(time.Hour).Unix(),
		IssuedAt:         now,
		ExpiresAt:        now.Add(time.Minute),
	}

	forged, err := tokenizer.NewJWTTokenizer(newKey(t)).ApprovalToToken(approval)
	require.NoError(t, err)
	rec := s.do(t, http.MethodPost, "/approval/record", map[string]string{"token": forged}, s.surface)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/approval/record", map[string]any{
		"requestId": "req-1",
		"origin":    origin,
		"address":   "0xabc",
	}, s.surface)
	require.Equal(t, http.StatusBadRequest, rec.Code, "unsigned approvals are refused")

	stored, err := s.storage.Approval(ctx, "req-1")
	require.NoError(t, err)
	require.Empty(t, stored)

	token, err := s.tokenizer.ApprovalToToken(approval)
	require.NoError(t, err)
	rec = s.do(t, http.MethodPost, "/approval/record", map[string]string{"token": token}, s.surface)
	require.Equal(t, http.StatusNoContent, rec.Code)

	stored, err = s.storage.Approval(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, token, stored)
}
