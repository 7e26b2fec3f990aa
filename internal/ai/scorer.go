package ai

import "context"

// Candidate is the reduced company view handed to the semantic scorer.
type Candidate struct {
	NIF         string
	Name        string
	CAECode     string
	City        string
	Description string
}

// BatchRequest carries one incentive's free-text fit question and the ordered
// rule-stage candidates to score against it.
type BatchRequest struct {
	Objective   string
	Eligibility string
	Candidates  []Candidate
}

// CandidateScore is one scored candidate. Score is always in [0,1].
type CandidateScore struct {
	NIF   string  `json:"nif"`
	Score float64 `json:"score"`
}

// BatchScorer evaluates how well each candidate fits an incentive's objective
// and eligibility text. The response is a subset or permutation of the request
// candidates: entries may be omitted by the backing service. Implementations
// must degrade total failures (timeout, transport error, unparseable payload)
// to a zero score for every candidate rather than returning an error, so the
// matching engine never fails because the semantic stage did. Scores are not
// deterministic across calls; callers may only rely on bounds and cardinality.
type BatchScorer interface {
	ScoreBatch(ctx context.Context, req *BatchRequest) ([]CandidateScore, error)
}

// ZeroScores builds the degradation response: a zero score for every candidate
// in the request batch, preserving order.
func ZeroScores(req *BatchRequest) []CandidateScore {
	scores := make([]CandidateScore, len(req.Candidates))
	for i, candidate := range req.Candidates {
		scores[i] = CandidateScore{NIF: candidate.NIF, Score: 0}
	}
	return scores
}
