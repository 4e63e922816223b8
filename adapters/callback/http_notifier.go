package callback

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/layer-3/keychain/core"
	"github.com/layer-3/keychain/ports"
)

// HTTPNotifier posts registration results to a callback_uri. The body is the
// base64 encoding of the JSON payload.
type HTTPNotifier struct {
	client *http.Client
}

var _ ports.CallbackNotifier = (*HTTPNotifier)(nil)

// NewHTTPNotifier creates a notifier; a nil client gets a 10s timeout default.
func NewHTTPNotifier(client *http.Client) *HTTPNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPNotifier{client: client}
}

// Notify returns core.ErrCallbackRejected for any non-2xx answer.
func (n *HTTPNotifier) Notify(ctx context.Context, uri string, payload core.CallbackPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}
	body := base64.StdEncoding.EncodeToString(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback answered %d: %w", resp.StatusCode, core.ErrCallbackRejected)
	}
	return nil
}
