package core_test

import (
	"testing"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/stretchr/testify/assert"
)

func TestSessionExpiryBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.False(t, (&core.Session{ExpiresAt: now.Unix() - 1}).Valid(now))
	assert.True(t, (&core.Session{ExpiresAt: now.Unix() + 1}).Valid(now))
	// expiry is exclusive
	assert.False(t, (&core.Session{ExpiresAt: now.Unix()}).Valid(now))
	assert.True(t, (&core.Session{ExpiresAt: now.Unix()}).Valid(now.Add(-time.Second)))

	var missing *core.Session
	assert.False(t, missing.Valid(now))
	assert.False(t, missing.Covers(nil))
}

func TestSessionUsable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := &core.Session{Policies: []core.Policy{transfer, approve}, ExpiresAt: now.Unix() + 60}

	assert.True(t, s.Usable(now, []core.Policy{transfer}))
	assert.True(t, s.Usable(now, nil))
	assert.False(t, s.Usable(now, []core.Policy{mint}))
	assert.False(t, s.Usable(now.Add(time.Minute), []core.Policy{transfer}))
}

func TestSessionTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := &core.Session{ExpiresAt: now.Unix() + 90}
	assert.Equal(t, 90*time.Second, s.TTL(now))
	assert.Zero(t, s.TTL(now.Add(2*time.Minute)))
}

func TestRegistrationExpiryBoundary(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.True(t, (&core.SessionRegistration{ExpiresAt: now.Unix() + 1}).Valid(now))
	assert.False(t, (&core.SessionRegistration{ExpiresAt: now.Unix()}).Valid(now))

	r := &core.SessionRegistration{Username: "alice", Address: "0x1234", OwnerGUID: "0xabc"}
	assert.Equal(t, &core.Controller{Username: "alice", Address: "0x1234", OwnerGUID: "0xabc"}, r.Controller())
}

func TestStorageKeys(t *testing.T) {
	assert.Equal(t, "session:0x1234:https://app.example", core.SessionKey("0x0001234", "https://app.example"))
	assert.Equal(t, "approval:req-1", core.ApprovalKey("req-1"))
	assert.Equal(t, "keychain.https://app.example.req-1", core.ChannelName("https://app.example", "req-1"))
}
