package gbif

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kelpPage = `{
	"offset": 0, "limit": 20, "endOfRecords": true,
	"results": [{
		"key": 3196405,
		"nubKey": 3196405,
		"scientificName": "Ecklonia radiata (C.Agardh) J.Agardh",
		"canonicalName": "Ecklonia radiata",
		"authorship": "(C.Agardh) J.Agardh",
		"rank": "SPECIES",
		"taxonomicStatus": "ACCEPTED",
		"kingdom": "Chromista",
		"phylum": "Ochrophyta",
		"class": "Phaeophyceae",
		"order": "Laminariales",
		"family": "Lessoniaceae",
		"genus": "Ecklonia"
	}]
}`

func TestSearch(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantCount  int
		wantStatus int
	}{
		{name: "success", status: http.StatusOK, body: kelpPage, wantCount: 1, wantStatus: 200},
		{name: "empty", status: http.StatusOK, body: `{"results": []}`, wantCount: 0, wantStatus: 200},
		{name: "server_error", status: http.StatusBadGateway, body: "oops", wantErr: "unexpected status 502", wantStatus: 502},
		{name: "malformed", status: http.StatusOK, body: `{"results": {}}`, wantErr: "decode response", wantStatus: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/species", r.URL.Path)
				assert.Equal(t, "Ecklonia radiata", r.URL.Query().Get("name"))
				assert.Equal(t, BackboneDatasetKey, r.URL.Query().Get("datasetKey"))
				assert.Equal(t, "5", r.URL.Query().Get("limit"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			page, status, err := NewClient(WithBaseURL(srv.URL)).Search(context.Background(), "Ecklonia radiata", 5)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, page)
				return
			}
			require.NoError(t, err)
			assert.Len(t, page.Results, tt.wantCount)
		})
	}
}

func TestSearch_DecodesUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(kelpPage))
	}))
	defer srv.Close()

	page, _, err := NewClient(WithBaseURL(srv.URL), WithDatasetKey("")).Search(context.Background(), "Ecklonia radiata", 0)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	u := page.Results[0]
	assert.Equal(t, int64(3196405), u.Key)
	assert.Equal(t, "Ecklonia radiata", u.CanonicalName)
	assert.Equal(t, "Phaeophyceae", u.Class)
}

func TestMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/species/match", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("verbose"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{
			"usageKey": 2374171, "scientificName": "Thunnus maccoyii (Castelnau, 1872)",
			"canonicalName": "Thunnus maccoyii", "rank": "SPECIES", "status": "ACCEPTED",
			"confidence": 92, "matchType": "FUZZY", "family": "Scombridae", "genus": "Thunnus",
			"alternatives": [{"usageKey": 2374172, "canonicalName": "Thunnus obesus", "matchType": "FUZZY"}]
		}`))
	}))
	defer srv.Close()

	m, status, err := NewClient(WithBaseURL(srv.URL), WithUserAgent("test-agent")).Match(context.Background(), "Thunnis maccoyii")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.True(t, m.Matched())
	assert.Equal(t, "FUZZY", m.MatchType)
	require.Len(t, m.Alternatives, 1)
	assert.Equal(t, int64(2374172), m.Alternatives[0].UsageKey)
}

func TestMatch_None(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"confidence": 100, "matchType": "NONE", "synonym": false}`))
	}))
	defer srv.Close()

	m, _, err := NewClient(WithBaseURL(srv.URL)).Match(context.Background(), "Xyzzy plugh")
	require.NoError(t, err)
	assert.False(t, m.Matched())
}

func TestAPIError_RetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, status, err := NewClient(WithBaseURL(srv.URL)).Match(context.Background(), "x")
	assert.Equal(t, 429, status)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "10", apiErr.RetryAfter)
}
