package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/farhan/wagate/internal/signing"
)

// SendResult is the classified outcome of exactly one POST attempt. A non-2xx
// response is still a response: StatusCode is set and Error stays empty.
// Error is only set for transport-level failures (timeout, DNS, refused).
type SendResult struct {
	StatusCode int
	Error      string
	LatencyMs  int64
}

func (r *SendResult) Success() bool {
	return r.Error == "" && r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender performs single webhook POSTs. It never retries; scheduling retries
// is the worker loop's job.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *Sender) Send(ctx context.Context, url, secret string, payload []byte) *SendResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("failed to create request: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wagate/1.0")
	if secret != "" {
		// X-Webhook-Secret is the legacy contract consumers already verify
		// against; the HMAC signature header is additive.
		req.Header.Set("X-Webhook-Secret", secret)
		req.Header.Set("X-Webhook-Signature", signing.Sign(secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &SendResult{
			Error:     fmt.Sprintf("request failed: %v", err),
			LatencyMs: time.Since(start).Milliseconds(),
		}
	}
	defer resp.Body.Close()

	// Response bodies are not parsed, but drain a little so the connection
	// can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return &SendResult{
		StatusCode: resp.StatusCode,
		LatencyMs:  time.Since(start).Milliseconds(),
	}
}
