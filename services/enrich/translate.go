// Package enrich holds the best-effort secondary lookups (translation,
// cover images). Every failure here degrades to a defined fallback; nothing
// in this package may block or fail an import.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// ErrTranslatorDisabled is returned when no translation endpoint is configured.
var ErrTranslatorDisabled = errors.New("translator not configured")

// Translator calls an external translation service. Failures are reported
// as errors for tests to assert on, but callers are expected to fall back
// to the original text via TranslateOrOriginal.
type Translator struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewTranslator creates a translator. An empty baseURL disables it.
func NewTranslator(baseURL, apiKey string, httpc *http.Client) *Translator {
	if httpc == nil {
		httpc = &http.Client{Timeout: 20 * time.Second}
	}
	return &Translator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		httpc:   httpc,
	}
}

// Enabled reports whether a translation endpoint is configured.
func (t *Translator) Enabled() bool {
	return t != nil && t.baseURL != ""
}

// Translate translates text into the target language.
func (t *Translator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if !t.Enabled() {
		return "", ErrTranslatorDisabled
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	payload, err := json.Marshal(map[string]string{
		"text":   text,
		"target": targetLang,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("translate request failed: %s", resp.Status)
	}

	var body struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("translate decode: %w", err)
	}
	if strings.TrimSpace(body.Text) == "" {
		return "", errors.New("translate: empty response")
	}
	return body.Text, nil
}

// TranslateOrOriginal is the fallback path used during imports: any failure
// returns the original text untouched and is logged, never surfaced.
func (t *Translator) TranslateOrOriginal(ctx context.Context, text, targetLang string) string {
	translated, err := t.Translate(ctx, text, targetLang)
	if err != nil {
		if !errors.Is(err, ErrTranslatorDisabled) {
			log.Printf("[enrich] translation degraded to original: %v", err)
		}
		return text
	}
	return translated
}
