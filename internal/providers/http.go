package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tnunamak/usagebar/internal/errs"
)

const maxErrorBody = 512

// doJSON sends req and decodes a 200 response into v. 401/403 map to
// Unauthorized, other statuses to a server error carrying the body.
func doJSON(client *http.Client, req *http.Request, op string, v any) error {
	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.New(errs.KindNetwork, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errs.HTTP(op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errs.New(errs.KindDataCorrupted, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "usagebar")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func getJSON(ctx context.Context, client *http.Client, url, op string, headers map[string]string, v any) error {
	req, err := newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	for k, val := range headers {
		req.Header.Set(k, val)
	}
	return doJSON(client, req, op, v)
}
