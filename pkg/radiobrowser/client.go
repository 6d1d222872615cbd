package radiobrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is a public radio-browser.info mirror.
const DefaultBaseURL = "https://de1.api.radio-browser.info"

const (
	requestTimeout = 10 * time.Second

	// radio-browser asks clients to identify themselves.
	userAgent = "airband/1.0"
)

// ErrNotFound is returned when the directory has no station matching a name.
var ErrNotFound = errors.New("station not found")

// Station is a single entry from the directory. Only the fields the
// application reads are decoded; the directory returns many more.
type Station struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	URLResolved string `json:"url_resolved"`
	Homepage    string `json:"homepage"`
	Tags        string `json:"tags"`
	CountryCode string `json:"countrycode"`
	Codec       string `json:"codec"`
	Bitrate     int    `json:"bitrate"`
}

// StreamURL returns the playable URL for the station. The directory
// pre-resolves playlist indirections into url_resolved when it can.
func (s *Station) StreamURL() string {
	if s.URLResolved != "" {
		return s.URLResolved
	}
	return s.URL
}

// Client queries a radio-browser compatible station directory.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a directory client. An empty baseURL selects the default mirror.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// Resolve looks up the single best match for a station name, ordered by
// name. Returns ErrNotFound when the directory has no match.
func (c *Client) Resolve(ctx context.Context, name string) (*Station, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("limit", "1")
	params.Set("order", "name")

	stations, err := c.search(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(stations) == 0 {
		return nil, ErrNotFound
	}

	return &stations[0], nil
}

// Search queries the directory with the query as both a name filter and a
// free-text tag filter, hiding stations the directory knows to be broken.
func (c *Client) Search(ctx context.Context, query string) ([]Station, error) {
	params := url.Values{}
	params.Set("name", query)
	params.Set("tagList", query)
	params.Set("order", "name")
	params.Set("hidebroken", "true")

	return c.search(ctx, params)
}

func (c *Client) search(ctx context.Context, params url.Values) ([]Station, error) {
	u := fmt.Sprintf("%s/json/stations/search?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query directory")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("directory returned status %d", resp.StatusCode)
	}

	var stations []Station
	if err := json.NewDecoder(resp.Body).Decode(&stations); err != nil {
		return nil, errors.Wrap(err, "failed to decode directory response")
	}

	return stations, nil
}
