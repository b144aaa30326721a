package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/strainline/strainline/internal/candidate"
)

// Broker is the remote alert service: one create-event call returning an
// identifier, then zero or more attach calls keyed by that identifier.
type Broker interface {
	CreateEvent(ctx context.Context, rec *candidate.Record) (string, error)
	Attach(ctx context.Context, eventID string, art candidate.Artifact) error
}

// tokenEnv names the environment variable holding the broker API token.
const tokenEnv = "STRAINLINE_BROKER_TOKEN"

// HTTPBroker talks JSON over HTTP to the alert broker.
type HTTPBroker struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBroker builds a broker client for the given base URL. The API token
// is read from STRAINLINE_BROKER_TOKEN; an empty token sends unauthenticated
// requests.
func NewHTTPBroker(baseURL string) *HTTPBroker {
	return &HTTPBroker{
		baseURL: baseURL,
		token:   os.Getenv(tokenEnv),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateEvent uploads the primary candidate payload and returns the broker's
// event identifier.
func (b *HTTPBroker) CreateEvent(ctx context.Context, rec *candidate.Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode candidate: %w", err)
	}
	resp, err := b.post(ctx, b.baseURL+"/api/events", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("broker returned HTTP %d", resp.StatusCode)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create-event response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("broker returned no event id")
	}
	return out.ID, nil
}

// Attach uploads one derived artifact under an existing event.
func (b *HTTPBroker) Attach(ctx context.Context, eventID string, art candidate.Artifact) error {
	body, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("encode artifact %s: %w", art.Name, err)
	}
	resp, err := b.post(ctx, b.baseURL+"/api/events/"+eventID+"/artifacts", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("broker returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (b *HTTPBroker) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	return resp, nil
}
