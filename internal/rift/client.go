package rift

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.riftdata.gg"

	// requestsPerSecond paces our own calls under the provider's published
	// limit; the provider still enforces its own limiter upstream.
	requestsPerSecond = 20
	burstSize         = 5
)

var (
	// ErrRateLimited is returned when the provider rejects a call with 429.
	// Callers treat this as a hard stop for the current run.
	ErrRateLimited = errors.New("rift: rate limited by provider")

	// ErrMatchNotFound is returned for match ids the provider no longer
	// serves (old seasons expire out of its window).
	ErrMatchNotFound = errors.New("rift: match not found")
)

// MatchDetail is the provider's match document. Raw carries the full body
// for the ledger; the typed fields are only what the worker needs.
type MatchDetail struct {
	MatchID      string `json:"matchId"`
	GameCreation int64  `json:"gameCreation"`
	QueueID      int    `json:"queueId"`
	Raw          []byte `json:"-"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize),
	}
}

// ListMatchIDs returns every match id the provider has for the account,
// newest first (provider order).
func (c *Client) ListMatchIDs(ctx context.Context, accountKey string) ([]string, error) {
	url := fmt.Sprintf("%s/lol/match/v1/by-account/%s/ids", c.baseURL, accountKey)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, fmt.Errorf("failed to decode match id list: %w", err)
	}
	return ids, nil
}

// FetchMatchDetail returns the full match document for one match id.
func (c *Client) FetchMatchDetail(ctx context.Context, matchID string) (*MatchDetail, error) {
	url := fmt.Sprintf("%s/lol/match/v1/matches/%s", c.baseURL, matchID)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var detail MatchDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, fmt.Errorf("failed to decode match %s: %w", matchID, err)
	}
	detail.Raw = body
	return &detail, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Rift-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case http.StatusNotFound:
		return nil, ErrMatchNotFound
	default:
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
