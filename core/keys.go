package core

// Storage keys. Values are opaque strings; the backend is injected.
const (
	KeyController        = "controller"
	KeySession           = "session"
	KeySessionSigner     = "sessionSigner"
	KeyLastUsedConnector = "lastUsedConnector"
)

// SessionKey is the storage key of the session granted to origin for the
// account at address.
func SessionKey(address, origin string) string {
	return "session:" + NormalizeAddress(address) + ":" + origin
}

// ApprovalKey is the storage key of a detached approval record.
func ApprovalKey(requestID string) string {
	return "approval:" + requestID
}

// ChannelName scopes a broadcast channel to the requesting origin.
func ChannelName(origin, id string) string {
	return "keychain." + origin + "." + id
}
