// Package gbif is a minimal client for the GBIF species API, scoped to the
// GBIF backbone taxonomy.
package gbif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://api.gbif.org/v1"
	defaultUserAgent = "taxa-enrich"

	// BackboneDatasetKey identifies the GBIF backbone checklist.
	BackboneDatasetKey = "d7dddbf4-2cf0-4f39-9b2a-bb099caae36c"

	// MatchTypeNone is the /species/match verdict for an unmatched name.
	MatchTypeNone = "NONE"
)

// NameUsage is a backbone name usage from /species.
type NameUsage struct {
	Key             int64    `json:"key"`
	NubKey          int64    `json:"nubKey"`
	ScientificName  string   `json:"scientificName"`
	CanonicalName   string   `json:"canonicalName"`
	Authorship      string   `json:"authorship"`
	Rank            string   `json:"rank"`
	TaxonomicStatus string   `json:"taxonomicStatus"`
	Kingdom         string   `json:"kingdom"`
	Phylum          string   `json:"phylum"`
	Class           string   `json:"class"`
	Order           string   `json:"order"`
	Family          string   `json:"family"`
	Genus           string   `json:"genus"`
	AcceptedKey     int64    `json:"acceptedKey"`
	Accepted        string   `json:"accepted"`
	ThreatStatuses  []string `json:"threatStatuses"`
}

// SearchPage is the paged /species response.
type SearchPage struct {
	Offset       int         `json:"offset"`
	Limit        int         `json:"limit"`
	EndOfRecords bool        `json:"endOfRecords"`
	Results      []NameUsage `json:"results"`
}

// Match is a /species/match result. Alternatives are only sent when the
// request is verbose.
type Match struct {
	UsageKey         int64   `json:"usageKey"`
	AcceptedUsageKey int64   `json:"acceptedUsageKey"`
	ScientificName   string  `json:"scientificName"`
	CanonicalName    string  `json:"canonicalName"`
	Rank             string  `json:"rank"`
	Status           string  `json:"status"`
	Confidence       int     `json:"confidence"`
	MatchType        string  `json:"matchType"`
	Synonym          bool    `json:"synonym"`
	Kingdom          string  `json:"kingdom"`
	Phylum           string  `json:"phylum"`
	Class            string  `json:"class"`
	Order            string  `json:"order"`
	Family           string  `json:"family"`
	Genus            string  `json:"genus"`
	Species          string  `json:"species"`
	Alternatives     []Match `json:"alternatives"`
}

// Matched reports whether GBIF matched the name to a usage.
func (m Match) Matched() bool {
	return m.MatchType != "" && m.MatchType != MatchTypeNone && m.UsageKey != 0
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter string // raw Retry-After header, if sent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gbif: unexpected status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is returned when a 2xx body cannot be decoded.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gbif: decode response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client queries the GBIF species API.
type Client interface {
	// Search lists backbone usages sharing the exact canonical name.
	Search(ctx context.Context, name string, limit int) (*SearchPage, int, error)
	// Match runs the fuzzy backbone matcher with alternatives.
	Match(ctx context.Context, name string) (*Match, int, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithDatasetKey scopes Search to a checklist other than the backbone.
func WithDatasetKey(key string) Option {
	return func(c *httpClient) {
		c.datasetKey = key
	}
}

type httpClient struct {
	baseURL    string
	userAgent  string
	datasetKey string
	http       *http.Client
}

// NewClient creates a GBIF API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		datasetKey: BackboneDatasetKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, name string, limit int) (*SearchPage, int, error) {
	q := url.Values{}
	q.Set("name", name)
	if c.datasetKey != "" {
		q.Set("datasetKey", c.datasetKey)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page SearchPage
	status, err := c.getJSON(ctx, c.baseURL+"/species?"+q.Encode(), &page)
	if err != nil {
		return nil, status, err
	}
	return &page, status, nil
}

func (c *httpClient) Match(ctx context.Context, name string) (*Match, int, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("verbose", "true")

	var m Match
	status, err := c.getJSON(ctx, c.baseURL+"/species/match?"+q.Encode(), &m)
	if err != nil {
		return nil, status, err
	}
	return &m, status, nil
}

func (c *httpClient) getJSON(ctx context.Context, endpoint string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, eris.Wrap(err, "gbif: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "gbif: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, eris.Wrap(err, "gbif: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		return resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, &DecodeError{StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, nil
}
