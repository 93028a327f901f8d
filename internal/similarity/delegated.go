package similarity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Veraticus/invoice-match/internal/service"
)

// ErrInvalidScore is returned when the remote service answers with a score outside [0,1].
var ErrInvalidScore = errors.New("similarity score out of range")

// RemoteScorer is the out-of-process backend behind a Delegated provider.
type RemoteScorer interface {
	Score(ctx context.Context, a, b string) (float64, error)
}

// DelegatedOptions configures a Delegated provider. Remote takes precedence
// over Endpoint.
type DelegatedOptions struct {
	Remote            RemoteScorer
	Fallback          service.SimilarityProvider
	HTTPClient        *http.Client
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Delegated asks an external scorer for similarity scores.
//
// Requests are rate limited and guarded by a circuit breaker. Any failure
// other than cancellation is answered by the local fallback provider, so a
// reconciliation run never fails because the scoring service is down.
type Delegated struct {
	remote   RemoteScorer
	fallback service.SimilarityProvider
	breaker  *gobreaker.CircuitBreaker[float64]
	limiter  *rate.Limiter
	cache    *scoreCache
}

// HTTPScorer posts {"a": ..., "b": ...} to an endpoint that answers {"score": x}.
type HTTPScorer struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

type similarityRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

type similarityResponse struct {
	Score float64 `json:"score"`
}

// NewDelegated builds a delegated provider.
func NewDelegated(opts DelegatedOptions) (*Delegated, error) {
	if opts.Remote == nil && opts.Endpoint == "" {
		return nil, fmt.Errorf("similarity endpoint is required")
	}
	if opts.Fallback == nil {
		opts.Fallback = Composite{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	remote := opts.Remote
	if remote == nil {
		client := opts.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: opts.Timeout}
		}
		remote = &HTTPScorer{client: client, endpoint: opts.Endpoint, apiKey: opts.APIKey}
	}

	breaker := gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
		Name:        "similarity",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})

	return &Delegated{
		remote:   remote,
		fallback: opts.Fallback,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		cache:    newScoreCache(opts.CacheTTL),
	}, nil
}

// Similarity implements service.SimilarityProvider.
func (d *Delegated) Similarity(ctx context.Context, a, b string) (float64, error) {
	// Symmetry: the pair is always sent and cached in the same order.
	if a > b {
		a, b = b, a
	}
	key := a + "\x00" + b
	if score, ok := d.cache.get(key); ok {
		return score, nil
	}

	score, err := d.breaker.Execute(func() (float64, error) {
		return d.score(ctx, a, b)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		slog.Warn("Remote similarity failed, using fallback", "error", err)
		return d.fallback.Similarity(ctx, a, b)
	}

	d.cache.set(key, score)
	return score, nil
}

// Close drops cached scores.
func (d *Delegated) Close() error {
	d.cache.clear()
	return nil
}

func (d *Delegated) score(ctx context.Context, a, b string) (float64, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	score, err := d.remote.Score(ctx, a, b)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidScore, score)
	}
	return score, nil
}

// Score implements RemoteScorer.
func (h *HTTPScorer) Score(ctx context.Context, a, b string) (float64, error) {
	body, err := json.Marshal(similarityRequest{A: a, B: b})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("similarity request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("similarity service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out similarityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.Score, nil
}
