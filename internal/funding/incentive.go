package funding

import "time"

// Incentive is a public funding opportunity ingested by external collaborators
// (scraper + extractor). The matching pipeline treats it as read-only.
type Incentive struct {
	ID          int64  `json:"incentive_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// AIDescription holds the serialized criteria record produced by the
	// external extraction step. It is parsed with ParseCriteria before use.
	AIDescription   string     `json:"ai_description,omitempty"`
	DocumentURLs    string     `json:"document_urls,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	TotalBudget     *float64   `json:"total_budget,omitempty"`
	SourceLink      string     `json:"source_link,omitempty"`
}
