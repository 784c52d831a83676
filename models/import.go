package models

import "strings"

// Reconciliation decisions returned for a single import payload.
const (
	DecisionCreate    = "create"
	DecisionUpdate    = "update"
	DecisionAmbiguous = "ambiguous"
	DecisionReject    = "reject"
)

// Match kinds, strongest first.
const (
	MatchKindExactID    = "exact-id"
	MatchKindExactTitle = "exact-title"
	MatchKindFuzzyTitle = "fuzzy-title"
)

// ImportPayload is the canonical shape every incoming record is normalized
// into before it reaches the resolver. Consumed once per reconciliation call.
type ImportPayload struct {
	Source            string         `json:"source"`
	ExternalID        string         `json:"externalId,omitempty"`
	Titles            []string       `json:"titles"`
	Fields            map[string]any `json:"fields,omitempty"`
	ConfirmedTargetID string         `json:"confirmedTargetId,omitempty"` // caller picked this entry after AMBIGUOUS
	ForceCreate       bool           `json:"forceCreate,omitempty"`       // caller insists on a new entry
	ForceOverwrite    bool           `json:"forceOverwrite,omitempty"`    // allow count fields to decrease
}

// JikanImport is the wire shape of a record fetched from the Jikan API.
type JikanImport struct {
	MALID    string   `json:"malId"`
	Title    string   `json:"title"`
	English  string   `json:"titleEnglish,omitempty"`
	Japanese string   `json:"titleJapanese,omitempty"`
	Synonyms []string `json:"titleSynonyms,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Payload converts a Jikan record into the canonical payload. Empty title
// variants are carried through; normalization drops them during matching.
func (j JikanImport) Payload() ImportPayload {
	titles := append([]string{j.Title, j.English, j.Japanese}, j.Synonyms...)
	return ImportPayload{
		Source:     SourceJikan,
		ExternalID: strings.TrimSpace(j.MALID),
		Titles:     titles,
		Fields:     j.Fields,
	}
}

// SheetImport is a row scraped from a shared spreadsheet. The raw
// alternative-title cell is delimited free text; the import boundary splits
// it before building the canonical payload.
type SheetImport struct {
	Title     string         `json:"title"`
	AltTitles string         `json:"altTitles,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// ManualImport is a record entered by hand through the UI.
type ManualImport struct {
	Title  string         `json:"title"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Payload converts a manual record into the canonical payload.
func (m ManualImport) Payload() ImportPayload {
	return ImportPayload{Source: SourceManual, Titles: []string{m.Title}, Fields: m.Fields}
}

// Import source names used for provenance stamps and priority rules.
const (
	SourceJikan  = "jikan"
	SourceSheet  = "sheet"
	SourceManual = "manual"
)

// MatchCandidate is one ranked match returned by the candidate matcher.
// Transient: never persisted.
type MatchCandidate struct {
	EntryID      string `json:"entryId"`
	Title        string `json:"title"`
	MatchKind    string `json:"matchKind"`
	Similarity   int    `json:"similarity"` // 0..100
	MatchedTitle string `json:"matchedTitle,omitempty"`
}

// ConflictRef identifies an entry whose stored external id contradicts the
// payload, so the UI can offer a resolution action.
type ConflictRef struct {
	EntryID    string `json:"entryId"`
	Title      string `json:"title"`
	ExternalID string `json:"externalId"`
}

// ReconcileResult is the outcome of resolving one import payload.
type ReconcileResult struct {
	Decision   string           `json:"decision"`
	EntryID    string           `json:"entryId,omitempty"`
	Candidates []MatchCandidate `json:"candidates,omitempty"`
	Conflict   *ConflictRef     `json:"conflict,omitempty"`
	Error      string           `json:"error,omitempty"`
}
