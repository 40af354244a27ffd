package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nexuslab/dispatch/internal/dispatch/classify"
)

// httpCore is shared plumbing for the HTTP provider implementations.
type httpCore struct {
	client *http.Client
}

func newHTTPCore(timeout time.Duration) httpCore {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return httpCore{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// postJSON posts payload to url and returns the decoded body. Transport and
// HTTP failures come back classified; the caller never sees a raw error.
func (h httpCore) postJSON(
	ctx context.Context,
	url string,
	headers map[string]string,
	payload any,
) (map[string]any, *classify.ClassifiedError) {
	body, err := json.Marshal(payload)
	if err != nil {
		ce := classify.ClassifiedError{Code: classify.InternalError, Message: fmt.Sprintf("marshal request: %v", err)}
		return nil, &ce
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		ce := classify.ClassifiedError{Code: classify.InternalError, Message: fmt.Sprintf("create request: %v", err)}
		return nil, &ce
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		ce := classify.Transport(0, err)
		return nil, &ce
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		ce := classify.Transport(resp.StatusCode, err)
		return nil, &ce
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > 500 {
			msg = msg[:500]
		}
		ce := classify.HTTPStatus(resp.StatusCode, "", msg, parseRetryAfter(resp.Header))
		return nil, &ce
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		ce := classify.ClassifiedError{
			Code:       classify.SchemaParseError,
			Message:    fmt.Sprintf("unparseable provider response: %v", err),
			HTTPStatus: resp.StatusCode,
		}
		return nil, &ce
	}
	return out, nil
}

func parseRetryAfter(h http.Header) float64 {
	ra := h.Get("Retry-After")
	if ra == "" {
		return 0
	}
	v, err := strconv.ParseFloat(ra, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// asInt pulls an int out of a decoded JSON number.
func asInt(v any) int {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}
