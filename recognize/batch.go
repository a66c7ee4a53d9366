// Package recognize implements the batch recognition path used when the
// streaming method is demoted: the accumulated clip is uploaded in one
// multipart request and the full transcript comes back in the response.
package recognize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"vox/encoder"
	"vox/fault"
	"vox/log"
)

// Backend turns one complete PCM clip into a transcript.
type Backend interface {
	Transcribe(ctx context.Context, clip []int16) (Result, error)
}

type Result struct {
	Text       string
	Confidence float64
	RateLimit  string
	Metrics    *NetworkMetrics
}

// HTTPBatch uploads clips to a recognition endpoint with bearer auth. The
// clip is sent as WAV, or FLAC when that comes out smaller.
type HTTPBatch struct {
	url      string
	token    func(ctx context.Context) (string, error)
	language string
	client   *TracedClient
}

func NewHTTPBatch(url string, token func(ctx context.Context) (string, error), language string) *HTTPBatch {
	return &HTTPBatch{
		url:      url,
		token:    token,
		language: language,
		client:   NewTracedClient(),
	}
}

// Warm pre-opens the connection; call it when a fallback to batch mode
// becomes likely.
func (b *HTTPBatch) Warm() { go b.client.Warm(b.url) }

type batchResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func (b *HTTPBatch) Transcribe(ctx context.Context, clip []int16) (Result, error) {
	if len(clip) == 0 {
		return Result{}, fault.New(fault.CodeConversion, "empty clip")
	}

	payload, format, err := encoder.CompressClip(clip)
	if err != nil {
		return Result{}, fault.Wrap(fault.CodeConversion, "clip compression failed", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(payload); err != nil {
		return Result{}, err
	}
	if b.language != "" {
		writer.WriteField("language", b.language)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", b.url, &body)
	if err != nil {
		return Result{}, err
	}
	token, err := b.token(ctx)
	if err != nil || token == "" {
		return Result{}, fault.Wrap(fault.CodeAuth, "no credential available", err).
			WithSuggestion("Sign in before starting voice capture.")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return Result{}, fault.Wrap(fault.CodeNetwork, "clip upload failed", err)
	}

	log.BatchMetrics(log.BatchMetricsData{
		AudioS:     float64(len(clip)) / float64(encoder.SampleRate),
		PayloadKB:  float64(len(payload)) / 1024,
		Format:     format,
		DNSMs:      float64(resp.Metrics.DNS.Milliseconds()),
		TLSMs:      float64(resp.Metrics.TLS.Milliseconds()),
		TTFBMs:     float64(resp.Metrics.TTFB.Milliseconds()),
		TotalMs:    float64(resp.Metrics.Total.Milliseconds()),
		ConnReused: resp.Metrics.ConnReused,
	})

	if err := classifyStatus(resp); err != nil {
		return Result{}, err
	}

	var parsed batchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return Result{}, fault.Wrap(fault.CodeConversion, "undecodable recognition response", err)
	}

	remaining := resp.Header.Get("x-ratelimit-remaining-requests")
	limit := resp.Header.Get("x-ratelimit-limit-requests")
	rateLimit := ""
	if remaining != "" || limit != "" {
		rateLimit = remaining + "/" + limit
	}

	return Result{
		Text:       parsed.Text,
		Confidence: parsed.Confidence,
		RateLimit:  rateLimit,
		Metrics:    resp.Metrics,
	}, nil
}

func classifyStatus(resp *TracedResponse) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fault.New(fault.CodeAuth, fmt.Sprintf("recognition API error %d", resp.StatusCode)).
			WithSuggestion("Sign in again to refresh your credentials.")
	case resp.StatusCode == http.StatusTooManyRequests:
		f := fault.New(fault.CodeRateLimit, "recognition API rate limited")
		if after := resp.Header.Get("Retry-After"); after != "" {
			f = f.WithSuggestion("Retry after " + after + " seconds.")
		}
		return f
	default:
		return fault.New(fault.CodeNetwork,
			fmt.Sprintf("recognition API error %d: %s", resp.StatusCode, truncate(resp.Body, 200)))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
