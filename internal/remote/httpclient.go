package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 16 << 20

// HTTPClient performs authenticated JSON calls against a Google-style REST
// API and classifies failures into *Error values.
type HTTPClient struct {
	BaseURL string
	Auth    Auth
	Client  *http.Client
	// Timeout bounds each call, including reading the body.
	Timeout time.Duration
}

// Do sends body as JSON (when non-nil) and returns the validated JSON
// response body.
func (c *HTTPClient) Do(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	token, err := c.Auth.AccessToken(ctx)
	if err != nil {
		return nil, NewError(KindAuthUnavailable, op, err)
	}
	if token == "" {
		return nil, NewError(KindAuthUnavailable, op, ErrNotSignedIn)
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, NewError(KindPermanent, op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	target := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, NewError(KindPermanent, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, ClassifyError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, ClassifyError(op, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{
			Kind:       ClassifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(errorMessage(data)),
		}
	}
	if len(bytes.TrimSpace(data)) > 0 && !gjson.ValidBytes(data) {
		return nil, SchemaError(op, "response is not valid JSON")
	}
	return data, nil
}

func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return msg.String()
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return "empty response"
	}
	return msg
}
