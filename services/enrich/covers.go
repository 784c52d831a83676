package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// CoverResolver queries a secondary image source when the primary record
// carries no cover. A nil or failed result never blocks entry creation.
type CoverResolver struct {
	baseURL string
	httpc   *http.Client
}

// NewCoverResolver creates a resolver. An empty baseURL disables it.
func NewCoverResolver(baseURL string, httpc *http.Client) *CoverResolver {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &CoverResolver{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpc:   httpc,
	}
}

// Enabled reports whether a secondary cover source is configured.
func (c *CoverResolver) Enabled() bool {
	return c != nil && c.baseURL != ""
}

// Resolve looks up a cover image URL for the title. It returns "" when the
// source is disabled, finds nothing, or the candidate is not a real image.
func (c *CoverResolver) Resolve(ctx context.Context, title string) string {
	if !c.Enabled() || strings.TrimSpace(title) == "" {
		return ""
	}

	endpoint := fmt.Sprintf("%s/covers?title=%s", c.baseURL, url.QueryEscape(title))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ""
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		log.Printf("[enrich] cover lookup degraded: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ""
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}

	candidate := strings.TrimSpace(body.URL)
	if candidate == "" {
		return ""
	}
	if !c.looksLikeImage(ctx, candidate) {
		log.Printf("[enrich] cover candidate rejected, not an image: %s", candidate)
		return ""
	}
	return candidate
}

// looksLikeImage sniffs the first bytes of the candidate URL and checks the
// detected content type, rather than trusting the extension.
func (c *CoverResolver) looksLikeImage(ctx context.Context, imageURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false
	}

	mtype, err := mimetype.DetectReader(io.LimitReader(resp.Body, 3072))
	if err != nil {
		return false
	}
	return strings.HasPrefix(mtype.String(), "image/")
}
