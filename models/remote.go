package models

// RemoteMedia is a parsed record from an external metadata API (Jikan).
type RemoteMedia struct {
	Source     string   `json:"source"`
	ExternalID string   `json:"externalId"`
	Title      string   `json:"title"`
	English    string   `json:"titleEnglish,omitempty"`
	Japanese   string   `json:"titleJapanese,omitempty"`
	Synonyms   []string `json:"titleSynonyms,omitempty"`
	MediaType  string   `json:"mediaType,omitempty"`
	Episodes   int      `json:"episodes,omitempty"`
	Chapters   int      `json:"chapters,omitempty"`
	Status     string   `json:"status,omitempty"`
	Airing     bool     `json:"airing,omitempty"`
	StartDate  string   `json:"startDate,omitempty"`
	EndDate    string   `json:"endDate,omitempty"`
	Synopsis   string   `json:"synopsis,omitempty"`
	Score      float64  `json:"score,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	Studios    []string `json:"studios,omitempty"`
	CoverURL   string   `json:"coverUrl,omitempty"`
	Relations  []string `json:"relations,omitempty"` // related work titles, used for disambiguation hints
}

// Titles returns every candidate title carried by the record, canonical first.
func (r RemoteMedia) Titles() []string {
	titles := []string{r.Title, r.English, r.Japanese}
	return append(titles, r.Synonyms...)
}

// Payload converts the remote record into a canonical import payload.
func (r RemoteMedia) Payload() ImportPayload {
	fields := map[string]any{
		FieldTitle:     r.Title,
		FieldMediaType: r.MediaType,
		FieldStatus:    r.Status,
		FieldStartDate: r.StartDate,
		FieldEndDate:   r.EndDate,
		FieldSynopsis:  r.Synopsis,
		FieldScore:     r.Score,
		FieldCoverURL:  r.CoverURL,
	}
	if r.Episodes > 0 {
		fields[FieldEpisodes] = r.Episodes
	}
	if r.Chapters > 0 {
		fields[FieldChapters] = r.Chapters
	}
	if len(r.Genres) > 0 {
		fields[FieldGenres] = r.Genres
	}
	if len(r.Studios) > 0 {
		fields[FieldStudios] = r.Studios
	}
	alt := make([]string, 0, len(r.Synonyms)+2)
	for _, t := range append([]string{r.English, r.Japanese}, r.Synonyms...) {
		if t != "" {
			alt = append(alt, t)
		}
	}
	if len(alt) > 0 {
		fields[FieldAlternativeTitles] = alt
	}
	return ImportPayload{
		Source:     r.Source,
		ExternalID: r.ExternalID,
		Titles:     r.Titles(),
		Fields:     fields,
	}
}
