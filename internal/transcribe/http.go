package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient calls a speech-to-text service that takes an audio locator and
// returns the transcript with the measured duration.
type HTTPClient struct {
	endpoint string
	hc       *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		hc:       &http.Client{Timeout: timeout},
	}
}

type httpReq struct {
	AudioRef string `json:"audio_ref"`
}

type httpResp struct {
	DurationSec float64 `json:"duration_seconds"`
	Transcript  string  `json:"transcript"`
}

func (c *HTTPClient) Transcribe(ctx context.Context, audioRef string) (Result, error) {
	body, err := json.Marshal(httpReq{AudioRef: audioRef})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		// Network failures and timeouts are worth a retry.
		return Result{}, &Error{Transient: true, Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(resp.Body)
		return Result{}, &Error{Transient: true, Cause: fmt.Errorf("transcriber http %d: %s", resp.StatusCode, string(b))}
	case resp.StatusCode >= 300:
		b, _ := io.ReadAll(resp.Body)
		return Result{}, &Error{Transient: false, Cause: fmt.Errorf("transcriber http %d: %s", resp.StatusCode, string(b))}
	}

	var out httpResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, &Error{Transient: false, Cause: err}
	}
	return Result{DurationSec: out.DurationSec, Text: out.Transcript}, nil
}
