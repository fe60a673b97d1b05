package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPInvalidator posts successfully-written keys to an external
// cache-invalidation endpoint. Fire-and-forget from the processor's
// perspective; the processor logs and drops any error returned here.
type HTTPInvalidator struct {
	url    string
	client *http.Client
}

// NewHTTPInvalidator creates an invalidator for the given endpoint.
func NewHTTPInvalidator(url string) *HTTPInvalidator {
	return &HTTPInvalidator{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify posts the key list as JSON.
func (h *HTTPInvalidator) Notify(ctx context.Context, keys []string) error {
	payload, err := json.Marshal(map[string][]string{"keys": keys})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("invalidation endpoint returned %s", resp.Status)
	}
	return nil
}
