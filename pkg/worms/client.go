// Package worms is a minimal client for the WoRMS (World Register of Marine
// Species) REST API.
package worms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://www.marinespecies.org/rest"
	defaultUserAgent = "taxa-enrich"
)

// AphiaRecord is a taxon record as returned by the AphiaRecords endpoints.
// The habitat flags are 0/1 and null when unknown.
type AphiaRecord struct {
	AphiaID        int    `json:"AphiaID"`
	URL            string `json:"url"`
	ScientificName string `json:"scientificname"`
	Authority      string `json:"authority"`
	Status         string `json:"status"`
	UnacceptReason string `json:"unacceptreason"`
	Rank           string `json:"rank"`
	ValidAphiaID   int    `json:"valid_AphiaID"`
	ValidName      string `json:"valid_name"`
	Kingdom        string `json:"kingdom"`
	Phylum         string `json:"phylum"`
	Class          string `json:"class"`
	Order          string `json:"order"`
	Family         string `json:"family"`
	Genus          string `json:"genus"`
	IsMarine       *int   `json:"isMarine"`
	IsBrackish     *int   `json:"isBrackish"`
	IsFreshwater   *int   `json:"isFreshwater"`
	IsTerrestrial  *int   `json:"isTerrestrial"`
	IsExtinct      *int   `json:"isExtinct"`
	MatchType      string `json:"match_type"`
	Modified       string `json:"modified"`
}

// Response carries decoded records with the HTTP status that produced them.
// StatusNoContent means the name is unknown to WoRMS.
type Response struct {
	Records    []AphiaRecord
	StatusCode int
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter string // raw Retry-After header, if sent
}

func (e *APIError) Error() string {
	return fmt.Sprintf("worms: unexpected status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is returned when a 2xx body cannot be decoded.
type DecodeError struct {
	StatusCode int
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("worms: decode response (status %d): %v", e.StatusCode, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client queries WoRMS.
type Client interface {
	// RecordsByName looks up exact scientific name matches.
	RecordsByName(ctx context.Context, name string) (*Response, error)
	// MatchNames runs the TAXAMATCH fuzzy matcher for a single name.
	MatchNames(ctx context.Context, name string) (*Response, error)
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

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
}

// NewClient creates a WoRMS API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
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

func (c *httpClient) RecordsByName(ctx context.Context, name string) (*Response, error) {
	q := url.Values{}
	q.Set("like", "false")
	q.Set("marine_only", "false")
	endpoint := c.baseURL + "/AphiaRecordsByName/" + url.PathEscape(name) + "?" + q.Encode()

	body, status, err := c.get(ctx, endpoint)
	if err != nil || status == http.StatusNoContent {
		return &Response{StatusCode: status}, err
	}

	var records []AphiaRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return &Response{StatusCode: status}, &DecodeError{StatusCode: status, Err: err}
	}
	return &Response{Records: records, StatusCode: status}, nil
}

func (c *httpClient) MatchNames(ctx context.Context, name string) (*Response, error) {
	q := url.Values{}
	q.Add("scientificnames[]", name)
	q.Set("marine_only", "false")
	endpoint := c.baseURL + "/AphiaRecordsByMatchNames?" + q.Encode()

	body, status, err := c.get(ctx, endpoint)
	if err != nil || status == http.StatusNoContent {
		return &Response{StatusCode: status}, err
	}

	// One result list per requested name.
	var nested [][]AphiaRecord
	if err := json.Unmarshal(body, &nested); err != nil {
		return &Response{StatusCode: status}, &DecodeError{StatusCode: status, Err: err}
	}
	var records []AphiaRecord
	for _, list := range nested {
		records = append(records, list...)
	}
	return &Response{Records: records, StatusCode: status}, nil
}

func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "worms: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "worms: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "worms: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 256),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
