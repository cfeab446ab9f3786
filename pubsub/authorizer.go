package pubsub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"console-realtime/contract"
	errs "console-realtime/errors"
)

// HTTPAuthorizer performs the out-of-band private-channel handshake:
// POST {socket_id, channel_name} with the bearer credential, expecting a
// signed {auth} token back.
type HTTPAuthorizer struct {
	log      *slog.Logger
	endpoint string
	bridge   contract.AuthBridge
	client   *http.Client
}

func NewHTTPAuthorizer(log *slog.Logger, endpoint string, bridge contract.AuthBridge) *HTTPAuthorizer {
	return &HTTPAuthorizer{
		log:      log,
		endpoint: endpoint,
		bridge:   bridge,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, socketID, channel string) (string, error) {
	token := a.bridge.BearerToken()
	if token == "" {
		return "", errs.ErrMissingCredential
	}

	body, err := json.Marshal(map[string]string{
		"socket_id":    socketID,
		"channel_name": channel,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("channel auth request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", errs.ErrChannelAuthDenied, resp.StatusCode)
	}

	var out struct {
		Auth string `json:"auth"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrInvalidAuthResponse, err)
	}
	if out.Auth == "" {
		return "", errs.ErrInvalidAuthResponse
	}
	return out.Auth, nil
}

var _ contract.ChannelAuthorizer = (*HTTPAuthorizer)(nil)
