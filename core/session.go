package core

import "time"

// Session is a time-boxed, policy-scoped delegation of signing authority to
// an ephemeral local key. Sessions are never mutated once issued; a new grant
// replaces the stored one.
type Session struct {
	Policies         []Policy `json:"policies"`
	ExpiresAt        int64    `json:"expiresAt"` // unix seconds
	SessionKeyPublic string   `json:"sessionKeyPublic"`
	Metadata         string   `json:"metadata,omitempty"`
}

// Valid reports whether the session is unexpired at now. Expiry is
// exclusive: a session whose ExpiresAt equals now is expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && now.Unix() < s.ExpiresAt
}

// Covers reports whether every policy in policies is granted by the session.
func (s *Session) Covers(policies []Policy) bool {
	return s != nil && len(Diff(policies, s.Policies)) == 0
}

// Usable combines Valid and Covers.
func (s *Session) Usable(now time.Time, policies []Policy) bool {
	return s.Valid(now) && s.Covers(policies)
}

// TTL returns how long the session stays valid after now, or zero.
func (s *Session) TTL(now time.Time) time.Duration {
	if !s.Valid(now) {
		return 0
	}
	return time.Unix(s.ExpiresAt, 0).Sub(now)
}

// Controller is the persisted account identity of the signed-in user.
type Controller struct {
	Username  string `json:"username"`
	Address   string `json:"address"`
	OwnerGUID string `json:"ownerGuid,omitempty"`
}

// SessionRegistration travels across a navigation boundary as a redirect
// token once a session has been registered out of band.
type SessionRegistration struct {
	Username        string `json:"username"`
	Address         string `json:"address"`
	OwnerGUID       string `json:"ownerGuid"`
	ExpiresAt       int64  `json:"expiresAt"`
	GuardianKeyGUID string `json:"guardianKeyGuid"`
	MetadataHash    string `json:"metadataHash"`
}

// Valid reports whether the registration is unexpired at now.
func (r *SessionRegistration) Valid(now time.Time) bool {
	return r != nil && now.Unix() < r.ExpiresAt
}

// Controller returns the identity carried by the registration.
func (r *SessionRegistration) Controller() *Controller {
	return &Controller{Username: r.Username, Address: r.Address, OwnerGUID: r.OwnerGUID}
}

// CallbackPayload is posted to a callback_uri after a session registration.
type CallbackPayload struct {
	Username          string `json:"username"`
	Address           string `json:"address"`
	StarkPubKey       string `json:"starkPubKey"`
	TransactionHash   string `json:"transactionHash,omitempty"`
	AlreadyRegistered bool   `json:"alreadyRegistered,omitempty"`
}

// Approval is written by a detached approval process and picked up by a
// polling connect.
type Approval struct {
	RequestID        string
	Origin           string
	Address          string
	Policies         []Policy
	SessionExpiresAt int64
	SessionKeyPublic string
	IssuedAt         time.Time
	ExpiresAt        time.Time
}
