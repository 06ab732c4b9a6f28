// Package metadata talks to the TMDB-compatible catalog API: listings,
// search, discovery, and per-movie watch providers.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Simon111302/movies/internal/metrics"
	"github.com/Simon111302/movies/internal/types"
)

// Client is a thin HTTP client over the catalog API. It is safe for
// concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	imageBase  string
	apiKey     string
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	ImageBase string
	APIKey    string
	Timeout   time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// NewClient builds a catalog client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    opts.BaseURL,
		imageBase:  opts.ImageBase,
		apiKey:     opts.APIKey,
	}
}

// movieItem is the upstream listing shape.
type movieItem struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	PosterPath  string  `json:"poster_path"`
	Overview    string  `json:"overview"`
	ReleaseDate string  `json:"release_date"`
	VoteAverage float64 `json:"vote_average"`
}

type listResponse struct {
	Page    int         `json:"page"`
	Results []movieItem `json:"results"`
}

// Trending returns the weekly trending movies.
func (c *Client) Trending(ctx context.Context, page int) ([]types.Movie, error) {
	return c.list(ctx, "/trending/movie/week", url.Values{}, page)
}

// Popular returns the most popular movies.
func (c *Client) Popular(ctx context.Context, page int) ([]types.Movie, error) {
	return c.list(ctx, "/movie/popular", url.Values{}, page)
}

// Upcoming returns movies with upcoming release dates.
func (c *Client) Upcoming(ctx context.Context, page int) ([]types.Movie, error) {
	return c.list(ctx, "/movie/upcoming", url.Values{}, page)
}

// Search finds movies by title.
func (c *Client) Search(ctx context.Context, query string, page int) ([]types.Movie, error) {
	q := url.Values{}
	q.Set("query", query)
	return c.list(ctx, "/search/movie", q, page)
}

// Discover lists movies by genre, sorted by popularity.
func (c *Client) Discover(ctx context.Context, genreID, page int) ([]types.Movie, error) {
	q := url.Values{}
	q.Set("sort_by", "popularity.desc")
	if genreID > 0 {
		q.Set("with_genres", strconv.Itoa(genreID))
	}
	return c.list(ctx, "/discover/movie", q, page)
}

// Details fetches a single movie. Used to resolve a title before playback.
func (c *Client) Details(ctx context.Context, movieID int64) (types.Movie, error) {
	endpoint := fmt.Sprintf("/movie/%d", movieID)
	var item movieItem
	if err := c.get(ctx, endpoint, url.Values{}, &item); err != nil {
		return types.Movie{}, err
	}
	return c.toMovie(item), nil
}

// watchProvidersResponse is the upstream per-movie providers shape. Only the
// flatrate (streaming) providers of the US region are surfaced.
type watchProvidersResponse struct {
	Results map[string]struct {
		Flatrate []struct {
			ProviderName string `json:"provider_name"`
			LogoPath     string `json:"logo_path"`
		} `json:"flatrate"`
	} `json:"results"`
}

// WatchProviders lists where a movie can legitimately be streamed.
func (c *Client) WatchProviders(ctx context.Context, movieID int64) ([]types.WatchProvider, error) {
	endpoint := fmt.Sprintf("/movie/%d/watch/providers", movieID)
	var decoded watchProvidersResponse
	if err := c.get(ctx, endpoint, url.Values{}, &decoded); err != nil {
		return nil, err
	}

	region, ok := decoded.Results["US"]
	if !ok {
		return nil, nil
	}
	providers := make([]types.WatchProvider, 0, len(region.Flatrate))
	for _, p := range region.Flatrate {
		wp := types.WatchProvider{Name: p.ProviderName}
		if p.LogoPath != "" {
			wp.LogoURL = c.imageBase + p.LogoPath
		}
		providers = append(providers, wp)
	}
	return providers, nil
}

func (c *Client) list(ctx context.Context, endpoint string, q url.Values, page int) ([]types.Movie, error) {
	if page < 1 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))

	var decoded listResponse
	if err := c.get(ctx, endpoint, q, &decoded); err != nil {
		return nil, err
	}

	movies := make([]types.Movie, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		movies = append(movies, c.toMovie(item))
	}
	return movies, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out interface{}) error {
	q.Set("api_key", c.apiKey)
	reqURL := c.baseURL + endpoint + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.NewMetadataFetchError(endpoint, 0, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordMetadataRequest(endpoint, "error")
		return types.NewMetadataFetchError(endpoint, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordMetadataRequest(endpoint, "not_found")
		return &types.MetadataError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Message:  "metadata item not found",
			Err:      types.ErrMetadataNotFound,
		}
	case resp.StatusCode != http.StatusOK:
		log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("metadata request failed")
		metrics.RecordMetadataRequest(endpoint, "error")
		return types.NewMetadataFetchError(endpoint, resp.StatusCode, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RecordMetadataRequest(endpoint, "error")
		return types.NewMetadataDecodeError(endpoint, err)
	}
	metrics.RecordMetadataRequest(endpoint, "ok")
	return nil
}

func (c *Client) toMovie(item movieItem) types.Movie {
	m := types.Movie{
		ID:          item.ID,
		Title:       item.Title,
		Overview:    item.Overview,
		ReleaseDate: item.ReleaseDate,
		Rating:      item.VoteAverage,
	}
	if item.PosterPath != "" {
		m.PosterURL = c.imageBase + item.PosterPath
	}
	return m
}
