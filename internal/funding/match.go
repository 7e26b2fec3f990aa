package funding

// Match links an incentive to a company with a relevance score in [0,1].
// Rows are produced exclusively by the matching engine and replaced wholesale
// on every run, so the table always reflects a single run's output.
type Match struct {
	IncentiveID int64   `json:"incentive_id"`
	CompanyNIF  string  `json:"company_nif"`
	Score       float64 `json:"score"`
}
