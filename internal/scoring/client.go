package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fedex-dca/control-tower/internal/shared/config"
	"github.com/fedex-dca/control-tower/internal/shared/logging"
	"github.com/fedex-dca/control-tower/internal/shared/metrics"
)

// Client calls the external priority-scoring service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewClient creates a scoring client. The timeout bounds every call; the
// ingestion pipeline must never hang on the ML dependency.
func NewClient(cfg config.ScoringConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		enabled: cfg.Enabled,
	}
}

// Score requests a live risk assessment. Any transport, status, or decode
// problem is returned as an error; the caller decides whether to fall back.
func (c *Client) Score(ctx context.Context, req Request) (*Result, error) {
	if !c.enabled {
		return nil, fmt.Errorf("scoring service disabled")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal scoring request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/priority/score", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create scoring request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("scoring service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scoring service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}

	if result.Confidence == 0 {
		result.Confidence = 0.85
	}
	if result.ModelVersion == "" {
		result.ModelVersion = ModelVersionLive
	}

	return &result, nil
}

// Health probes the scoring service.
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scoring service health returned %d", resp.StatusCode)
	}
	return nil
}

// liveScorer is the narrow dependency the Service needs from the Client,
// kept as an interface so tests can inject failures.
type liveScorer interface {
	Score(ctx context.Context, req Request) (*Result, error)
}

// Service produces a score for every request, falling back to the
// deterministic stub when the live service fails. Fallbacks are counted and
// logged but never surface as errors.
type Service struct {
	live liveScorer
	stub StubScorer
}

// NewService creates the scoring facade. A nil client means stub-only.
func NewService(live *Client) *Service {
	if live == nil {
		return &Service{}
	}
	return &Service{live: live}
}

// NewServiceWith wires an arbitrary live scorer, used by tests.
func NewServiceWith(live liveScorer) *Service {
	return &Service{live: live}
}

// Score never fails: the stub result is the floor.
func (s *Service) Score(ctx context.Context, req Request) *Result {
	if s.live != nil {
		result, err := s.live.Score(ctx, req)
		if err == nil {
			return result
		}
		logging.WithComponent("scoring").
			WithField("case_id", req.CaseID).
			WithError(err).Warn("live scoring failed, using stub")
	}

	metrics.ScoringFallback()
	return s.stub.Score(req)
}
