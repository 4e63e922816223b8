package core

// ResponseCode tags the outcome of a request.
type ResponseCode string

const (
	CodeSuccess                 ResponseCode = "SUCCESS"
	CodeCanceled                ResponseCode = "CANCELED"
	CodeNotConnected            ResponseCode = "NOT_CONNECTED"
	CodeUserInteractionRequired ResponseCode = "USER_INTERACTION_REQUIRED"
)

// Result is the typed outcome of a keychain operation. Canceled is a normal
// result, not an error.
type Result struct {
	Code            ResponseCode `json:"code"`
	Address         string       `json:"address,omitempty"`
	Policies        []Policy     `json:"policies,omitempty"`
	TransactionHash string       `json:"transactionHash,omitempty"`
	Signature       []string     `json:"signature,omitempty"`
	Message         string       `json:"message,omitempty"`
}

func Canceled() *Result { return &Result{Code: CodeCanceled} }

// State of the connection state machine.
type State string

const (
	StateIdle                     State = "idle"
	StateAwaitingControllerLookup State = "awaiting-controller-lookup"
	StateConnectNoSession         State = "connect-no-session"
	StateConnectExistingSession   State = "connect-existing-session"
	StateResolved                 State = "resolved"
	StateExecute                  State = "execute"
	StateSignMessage              State = "sign-message"
	StateLogout                   State = "logout"
)

// ContextKind tags a connection context.
type ContextKind string

const (
	KindConnect     ContextKind = "connect"
	KindExecute     ContextKind = "execute"
	KindSignMessage ContextKind = "sign-message"
	KindLogout      ContextKind = "logout"
)

// ViewKind names the approval screen a context needs.
type ViewKind string

const (
	ViewLogin            ViewKind = "login"
	ViewConnect          ViewKind = "connect"
	ViewHeadlessApproval ViewKind = "headless-approval"
	ViewExecute          ViewKind = "execute"
	ViewSignMessage      ViewKind = "sign-message"
)

// View is what the approval surface renders for the active context.
type View struct {
	Kind      ViewKind    `json:"kind"`
	Context   ContextKind `json:"context"`
	Origin    string      `json:"origin"`
	RequestID string      `json:"requestId,omitempty"`
	Address   string      `json:"address,omitempty"`
	Policies  []Policy    `json:"policies,omitempty"`
	Calls     []Call      `json:"calls,omitempty"`
	TypedData TypedData   `json:"typedData,omitempty"`
}

// Signal is the payload of a broadcast completion message.
type Signal struct {
	Code    ResponseCode `json:"code"`
	Address string       `json:"address,omitempty"`
}

// HeadlessCredential is a non-interactive credential, e.g. a password-derived key.
type HeadlessCredential struct {
	Username string `json:"username"`
	Method   string `json:"method"`
	Secret   string `json:"secret"`
}

// HeadlessOutcome is the non-error result of a headless authentication.
type HeadlessOutcome struct {
	Code      ResponseCode `json:"code"`
	Address   string       `json:"address,omitempty"`
	RequestID string       `json:"requestId,omitempty"`
}
