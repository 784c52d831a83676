// Package jikan wraps the Jikan (MyAnimeList) REST API. The client performs
// a single attempt per call and classifies failures so the import
// orchestrator can apply the right retry schedule.
package jikan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shelfr/models"
)

const defaultBaseURL = "https://api.jikan.moe/v4"

// ErrNotFound means the external id does not exist upstream.
var ErrNotFound = errors.New("jikan: media not found")

// RateLimitError is returned for HTTP 429 so the orchestrator can back off
// with the rate-limit schedule rather than the generic one.
type RateLimitError struct {
	Status string
}

func (e *RateLimitError) Error() string {
	return "jikan: rate limited: " + e.Status
}

// IsRateLimited reports whether an error (anywhere in the chain) came from
// an upstream 429.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// Client fetches media records from the Jikan API.
type Client struct {
	baseURL string
	httpc   *http.Client

	// Jikan enforces ~3 requests/second; space calls out locally too.
	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// NewClient creates a Jikan client. An empty baseURL selects the public API.
func NewClient(baseURL string, httpc *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       httpc,
		minInterval: 350 * time.Millisecond,
	}
}

// FetchAnimeByID fetches one anime record by MAL id.
func (c *Client) FetchAnimeByID(ctx context.Context, malID string) (models.RemoteMedia, error) {
	return c.fetch(ctx, "anime", malID)
}

// FetchMangaByID fetches one manga record by MAL id.
func (c *Client) FetchMangaByID(ctx context.Context, malID string) (models.RemoteMedia, error) {
	return c.fetch(ctx, "manga", malID)
}

// FetchByExternalID fetches the record for the given media type, defaulting
// to anime when the type is unknown.
func (c *Client) FetchByExternalID(ctx context.Context, mediaType, malID string) (models.RemoteMedia, error) {
	if mediaType == models.MediaTypeManga {
		return c.FetchMangaByID(ctx, malID)
	}
	return c.FetchAnimeByID(ctx, malID)
}

func (c *Client) fetch(ctx context.Context, kind, malID string) (models.RemoteMedia, error) {
	malID = strings.TrimSpace(malID)
	if malID == "" {
		return models.RemoteMedia{}, errors.New("jikan: mal id is required")
	}

	endpoint, err := url.JoinPath(c.baseURL, kind, malID, "full")
	if err != nil {
		return models.RemoteMedia{}, err
	}

	var body struct {
		Data jikanMedia `json:"data"`
	}
	if err := c.doGET(ctx, endpoint, &body); err != nil {
		return models.RemoteMedia{}, err
	}

	return body.Data.toRemoteMedia(kind, malID), nil
}

// doGET performs one throttled GET. It does not retry; retry policy belongs
// to the caller.
func (c *Client) doGET(ctx context.Context, endpoint string, v any) error {
	c.throttleMu.Lock()
	since := time.Since(c.lastRequest)
	if since < c.minInterval {
		time.Sleep(c.minInterval - since)
	}
	c.lastRequest = time.Now()
	c.throttleMu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("jikan request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Status: resp.Status}
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("jikan request failed: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("jikan decode: %w", err)
	}
	return nil
}

type jikanMedia struct {
	MALID    int64  `json:"mal_id"`
	Title    string `json:"title"`
	English  string `json:"title_english"`
	Japanese string `json:"title_japanese"`
	Synonyms []string `json:"title_synonyms"`
	Type     string `json:"type"`
	Episodes int    `json:"episodes"`
	Chapters int    `json:"chapters"`
	Status   string `json:"status"`
	Airing   bool   `json:"airing"`
	Aired    struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"aired"`
	Published struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"published"`
	Synopsis string  `json:"synopsis"`
	Score    float64 `json:"score"`
	Genres   []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Studios []struct {
		Name string `json:"name"`
	} `json:"studios"`
	Images struct {
		JPG struct {
			LargeImageURL string `json:"large_image_url"`
			ImageURL      string `json:"image_url"`
		} `json:"jpg"`
	} `json:"images"`
	Relations []struct {
		Relation string `json:"relation"`
		Entry    []struct {
			Name string `json:"name"`
		} `json:"entry"`
	} `json:"relations"`
}

func (m jikanMedia) toRemoteMedia(kind, malID string) models.RemoteMedia {
	remote := models.RemoteMedia{
		Source:     models.SourceJikan,
		ExternalID: malID,
		Title:      m.Title,
		English:    m.English,
		Japanese:   m.Japanese,
		Synonyms:   m.Synonyms,
		Episodes:   m.Episodes,
		Chapters:   m.Chapters,
		Status:     m.Status,
		Airing:     m.Airing,
		Synopsis:   m.Synopsis,
		Score:      m.Score,
	}

	if kind == "manga" {
		remote.MediaType = models.MediaTypeManga
		remote.StartDate = datePart(m.Published.From)
		remote.EndDate = datePart(m.Published.To)
	} else {
		remote.MediaType = models.MediaTypeAnime
		remote.StartDate = datePart(m.Aired.From)
		remote.EndDate = datePart(m.Aired.To)
	}

	for _, g := range m.Genres {
		if g.Name != "" {
			remote.Genres = append(remote.Genres, g.Name)
		}
	}
	for _, s := range m.Studios {
		if s.Name != "" {
			remote.Studios = append(remote.Studios, s.Name)
		}
	}

	remote.CoverURL = m.Images.JPG.LargeImageURL
	if remote.CoverURL == "" {
		remote.CoverURL = m.Images.JPG.ImageURL
	}

	for _, rel := range m.Relations {
		for _, e := range rel.Entry {
			if e.Name != "" {
				remote.Relations = append(remote.Relations, e.Name)
			}
		}
	}

	return remote
}

// datePart truncates Jikan's RFC3339 timestamps to the date.
func datePart(value string) string {
	if len(value) >= 10 {
		return value[:10]
	}
	return value
}
