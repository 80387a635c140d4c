package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// transport is the JSON-over-HTTP plumbing shared by the adapters.
type transport struct {
	name   string
	client *http.Client
	br     *Breaker
}

func newTransport(cfg Config) transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return transport{
		name:   cfg.Name,
		client: &http.Client{Timeout: timeout},
		br:     NewBreaker(cfg.FailThreshold, cfg.OpenFor),
	}
}

// post sends body as JSON and decodes a 2xx response into out (if non-nil).
// Breaker bookkeeping happens here so every send path is guarded.
func (t transport) post(ctx context.Context, url string, headers map[string]string, body, out any) error {
	if !t.br.TryAcquire() {
		return fmt.Errorf("provider=%s: %w", t.name, ErrUnavailable)
	}

	if err := t.do(ctx, url, headers, body, out); err != nil {
		t.br.OnFailure()
		return err
	}

	t.br.OnSuccess()
	return nil
}

func (t transport) do(ctx context.Context, url string, headers map[string]string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("provider=%s marshal: %w", t.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("provider=%s url=%s status=%d body=%q", t.name, url, res.StatusCode, bytes.TrimSpace(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("provider=%s decode: %w", t.name, err)
	}
	return nil
}
