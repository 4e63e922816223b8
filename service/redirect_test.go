package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/layer-3/keychain/adapters/store"
	"github.com/layer-3/keychain/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedirectService(t *testing.T) (*RedirectService, *store.MemoryStore, *testClock) {
	t.Helper()
	mem := store.NewMemoryStore()
	clock := newTestClock()
	s := NewRedirectService(NewStorage(mem), "", zerolog.Nop())
	s.now = clock.now
	return s, mem, clock
}

func registrationFixture(expiresAt int64) *core.SessionRegistration {
	return &core.SessionRegistration{
		Username:        "alice",
		Address:         testAddress,
		OwnerGUID:       "0xowner",
		ExpiresAt:       expiresAt,
		GuardianKeyGUID: "0x0",
		MetadataHash:    "0x0",
	}
}

func TestRegistrationTokenRoundTrip(t *testing.T) {
	reg := registrationFixture(1_900_000_000)

	token, err := EncodeRegistration(reg)
	require.NoError(t, err)
	assert.NotContains(t, token, "=")

	decoded, err := DecodeRegistration(token)
	require.NoError(t, err)
	assert.Equal(t, reg, decoded)
}

func TestDecodeRegistrationAlphabets(t *testing.T) {
	data, err := json.Marshal(registrationFixture(1_900_000_000))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"std padded":   base64.StdEncoding.EncodeToString(data),
		"std unpadded": base64.RawStdEncoding.EncodeToString(data),
		"url padded":   base64.URLEncoding.EncodeToString(data),
	} {
		t.Run(name, func(t *testing.T) {
			reg, err := DecodeRegistration(token)
			require.NoError(t, err)
			assert.Equal(t, testAddress, reg.Address)
		})
	}
}

func TestDecodeRegistrationRejects(t *testing.T) {
	for name, token := range map[string]string{
		"empty":          "",
		"not base64":     "%%%",
		"not json":       base64.RawURLEncoding.EncodeToString([]byte("nope")),
		"missing fields": base64.RawURLEncoding.EncodeToString([]byte(`{"username":"alice"}`)),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRegistration(token)
			require.ErrorIs(t, err, core.ErrInvalidRedirectPayload)
		})
	}
}

func TestIngestValidToken(t *testing.T) {
	s, _, clock := newRedirectService(t)
	ctx := context.Background()

	token, err := EncodeRegistration(registrationFixture(clock.now().Add(time.Hour).Unix()))
	require.NoError(t, err)
	u, err := url.Parse("https://app.example/play?level=2&startapp=" + token)
	require.NoError(t, err)

	res, err := s.Ingest(ctx, u)
	require.NoError(t, err)
	require.NotNil(t, res.Controller)
	assert.True(t, res.FromToken)
	assert.Equal(t, testAddress, res.Controller.Address)
	assert.Equal(t, "https://app.example/play?level=2", res.CleanURL.String())

	// A later navigation without the token sees the persisted registration.
	bare, err := url.Parse("https://app.example/play")
	require.NoError(t, err)
	res, err = s.Ingest(ctx, bare)
	require.NoError(t, err)
	require.NotNil(t, res.Controller)
	assert.False(t, res.FromToken)
}

func TestIngestIgnoresBadTokens(t *testing.T) {
	for name, token := range map[string]func(now time.Time) string{
		"expired now": func(now time.Time) string {
			tok, _ := EncodeRegistration(registrationFixture(now.Unix()))
			return tok
		},
		"malformed": func(time.Time) string { return "not-a-token" },
	} {
		t.Run(name, func(t *testing.T) {
			s, mem, clock := newRedirectService(t)

			u, err := url.Parse("https://app.example/?startapp=" + token(clock.now()))
			require.NoError(t, err)

			res, err := s.Ingest(context.Background(), u)
			require.NoError(t, err)
			assert.Nil(t, res.Controller)
			assert.Zero(t, mem.Len())
			assert.Equal(t, "https://app.example/", res.CleanURL.String())
		})
	}
}

func TestIngestFallsBackToPersisted(t *testing.T) {
	s, _, clock := newRedirectService(t)
	ctx := context.Background()
	require.NoError(t, s.storage.SaveRegistration(ctx, registrationFixture(clock.now().Add(time.Hour).Unix())))

	u, err := url.Parse("https://app.example/?startapp=garbage")
	require.NoError(t, err)
	res, err := s.Ingest(ctx, u)
	require.NoError(t, err)
	require.NotNil(t, res.Controller)
	assert.Equal(t, testAddress, res.Controller.Address)
	assert.False(t, res.FromToken)
}

func TestIngestExpiredPersisted(t *testing.T) {
	s, _, clock := newRedirectService(t)
	ctx := context.Background()
	require.NoError(t, s.storage.SaveRegistration(ctx, registrationFixture(clock.now().Unix())))

	u, err := url.Parse("https://app.example/")
	require.NoError(t, err)
	res, err := s.Ingest(ctx, u)
	require.NoError(t, err)
	assert.Nil(t, res.Controller)
}
