package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/service"
	"github.com/layer-3/keychain/transport/rpc"
	"github.com/rs/zerolog"
)

var errOriginMismatch = errors.New("origin does not match request")

// Handlers serve the keychain over HTTP.
type Handlers struct {
	keychain     *service.Keychain
	dispatcher   *rpc.Dispatcher
	redirect     *service.RedirectService
	registration *service.RegistrationService
	logger       zerolog.Logger
}

// NewHandlers creates the HTTP handlers over the keychain services
func NewHandlers(
	keychain *service.Keychain,
	dispatcher *rpc.Dispatcher,
	redirect *service.RedirectService,
	registration *service.RegistrationService,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		keychain:     keychain,
		dispatcher:   dispatcher,
		redirect:     redirect,
		registration: registration,
		logger:       logger,
	}
}

// RPC dispatches a request envelope. A browser Origin header must agree
// with the envelope origin; it never fills in a missing one.
func (h *Handlers) RPC(c *gin.Context) {
	var env rpc.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, rpc.Response{Error: "Invalid request"})
		return
	}

	if header := c.GetHeader("Origin"); header != "" && env.Origin != "" && header != env.Origin {
		c.JSON(http.StatusForbidden, rpc.Response{Method: env.Method, Error: errOriginMismatch.Error()})
		return
	}

	resp := h.dispatcher.Dispatch(c.Request.Context(), env)
	status := http.StatusOK
	if err := resp.Err(); err != nil {
		status = statusFor(err)
	}
	c.JSON(status, resp)
}

// Approval returns the view of the pending request.
func (h *Handlers) Approval(c *gin.Context) {
	view, ok := h.keychain.Active()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": core.ErrNoPendingRequest.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// Approve settles the pending request with the approval outcome.
func (h *Handlers) Approve(c *gin.Context) {
	var params service.ApproveParams
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	res, err := h.keychain.Approve(c.Request.Context(), params)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	h.logger.Info().Str("surface", c.GetString(SurfaceKey)).Str("code", string(res.Code)).Msg("request approved")
	c.JSON(http.StatusOK, res)
}

// Cancel resolves the pending request as canceled by the user.
func (h *Handlers) Cancel(c *gin.Context) {
	if err := h.keychain.Cancel(); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, core.Canceled())
}

// RecordApproval stores an approval token signed by the detached approval
// process for a polling connect.
func (h *Handlers) RecordApproval(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.keychain.RecordApproval(c.Request.Context(), req.Token); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Signal publishes a completion signal for a pending request id.
func (h *Handlers) Signal(c *gin.Context) {
	var req struct {
		Origin  string            `json:"origin" binding:"required"`
		ID      string            `json:"id" binding:"required"`
		Code    core.ResponseCode `json:"code" binding:"required"`
		Address string            `json:"address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.keychain.Signal(c.Request.Context(), req.Origin, req.ID, core.Signal{Code: req.Code, Address: req.Address})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// SessionReturn consumes a registration token. When the URL carried one the
// client is sent to the same URL without it.
func (h *Handlers) SessionReturn(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Referrer-Policy", "no-referrer")

	res, err := h.redirect.Ingest(c.Request.Context(), c.Request.URL)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if res.CleanURL.RawQuery != c.Request.URL.RawQuery {
		c.Redirect(http.StatusSeeOther, res.CleanURL.RequestURI())
		return
	}

	if res.Controller == nil {
		c.JSON(http.StatusOK, core.Result{Code: core.CodeNotConnected})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":      core.CodeSuccess,
		"address":   res.Controller.Address,
		"username":  res.Controller.Username,
		"expiresAt": res.ExpiresAt,
	})
}

// Register completes an out-of-band session registration.
func (h *Handlers) Register(c *gin.Context) {
	var req service.RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	res, err := h.registration.Complete(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrMissingOrigin),
		errors.Is(err, core.ErrUnknownMethod),
		errors.Is(err, core.ErrInvalidParams),
		errors.Is(err, core.ErrInvalidPolicy),
		errors.Is(err, core.ErrInvalidRedirectPayload),
		errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrMalformedSignature),
		errors.Is(err, core.ErrSessionExpired):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, errOriginMismatch):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNoPendingRequest), errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrControllerNotReady):
		return http.StatusConflict
	case errors.Is(err, core.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrCallbackRejected):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
