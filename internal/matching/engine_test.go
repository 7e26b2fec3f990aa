package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/davidpt/incentive-matcher/internal/ai"
	"github.com/davidpt/incentive-matcher/internal/funding"
)

type stubStore struct {
	mu        sync.Mutex
	cleared   int
	matches   []funding.Match
	clearErr  error
	insertErr error
}

func (s *stubStore) ClearAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clearErr != nil {
		return s.clearErr
	}
	s.cleared++
	s.matches = nil
	return nil
}

func (s *stubStore) InsertBatch(_ context.Context, matches []funding.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.matches = append(s.matches, matches...)
	return nil
}

func (s *stubStore) stored() []funding.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]funding.Match, len(s.matches))
	copy(out, s.matches)
	return out
}

// stubScorer scores candidates from a fixed table, omitting unknown NIFs.
type stubScorer struct {
	mu       sync.Mutex
	scores   map[string]float64
	err      error
	requests []*ai.BatchRequest
}

func (s *stubScorer) ScoreBatch(_ context.Context, req *ai.BatchRequest) ([]ai.CandidateScore, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	var out []ai.CandidateScore
	for _, candidate := range req.Candidates {
		if score, ok := s.scores[candidate.NIF]; ok {
			out = append(out, ai.CandidateScore{NIF: candidate.NIF, Score: score})
		}
	}
	return out, nil
}

func incentive(id int64, criteria string) *funding.Incentive {
	return &funding.Incentive{
		ID:            id,
		Title:         fmt.Sprintf("incentive-%d", id),
		AIDescription: criteria,
	}
}

const openCriteria = `{"caes": [], "geographic_location": "Nacional", "dimension": "", "object": "digitalization", "criterios": "active companies"}`

func companiesFixture(n int) []*funding.Company {
	companies := make([]*funding.Company, 0, n)
	for i := 0; i < n; i++ {
		companies = append(companies, &funding.Company{
			NIF:            fmt.Sprintf("nif-%03d", i),
			Name:           fmt.Sprintf("Company %d", i),
			CAEPrimaryCode: "62",
			City:           "Lisboa",
			Employees:      10,
		})
	}
	return companies
}

func TestRunEmptyInputsTouchNothing(t *testing.T) {
	store := &stubStore{}
	engine := NewEngine(store, &stubScorer{}, Config{}, zap.NewNop())

	persisted, err := engine.Run(context.Background(), nil, companiesFixture(3), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 0 {
		t.Fatalf("expected 0 persisted matches, got %d", persisted)
	}

	persisted, err = engine.Run(context.Background(), []*funding.Incentive{incentive(1, openCriteria)}, nil, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 0 {
		t.Fatalf("expected 0 persisted matches, got %d", persisted)
	}

	if store.cleared != 0 {
		t.Fatalf("expected the clear step to be skipped, got %d clears", store.cleared)
	}
}

func TestRunPersistsTopKBySemanticScore(t *testing.T) {
	store := &stubStore{}
	scorer := &stubScorer{scores: map[string]float64{
		"nif-000": 0.2,
		"nif-001": 0.9,
		"nif-002": 0.5,
		"nif-003": 0.0,
		"nif-004": 0.7,
		"nif-005": 0.4,
		"nif-006": 0.6,
	}}
	engine := NewEngine(store, scorer, Config{}, zap.NewNop())

	persisted, err := engine.Run(context.Background(), []*funding.Incentive{incentive(1, openCriteria)}, companiesFixture(7), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 5 {
		t.Fatalf("expected 5 persisted matches, got %d", persisted)
	}

	stored := store.stored()
	if len(stored) != 5 {
		t.Fatalf("expected 5 stored matches, got %d", len(stored))
	}

	for i, match := range stored {
		if match.Score <= 0 {
			t.Fatalf("stored match %d has non-positive score %v", i, match.Score)
		}
		if i > 0 && stored[i-1].Score < match.Score {
			t.Fatalf("stored matches are not sorted by descending score: %v", stored)
		}
	}

	// nif-003 scored zero and must be excluded even though k would allow it.
	for _, match := range stored {
		if match.CompanyNIF == "nif-003" {
			t.Fatalf("zero-scored candidate was persisted")
		}
	}

	if stored[0].CompanyNIF != "nif-001" || stored[0].Score != 0.9 {
		t.Fatalf("expected nif-001 with semantic score 0.9 first, got %+v", stored[0])
	}
}

func TestRunIsIdempotentWithDeterministicScorer(t *testing.T) {
	store := &stubStore{}
	scorer := &stubScorer{scores: map[string]float64{
		"nif-000": 0.8,
		"nif-001": 0.6,
		"nif-002": 0.4,
	}}
	engine := NewEngine(store, scorer, Config{}, zap.NewNop())

	incentives := []*funding.Incentive{incentive(1, openCriteria), incentive(2, openCriteria)}
	companies := companiesFixture(3)

	first, err := engine.Run(context.Background(), incentives, companies, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snapshot := store.stored()

	second, err := engine.Run(context.Background(), incentives, companies, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Fatalf("runs persisted different counts: %d vs %d", first, second)
	}
	if store.cleared != 2 {
		t.Fatalf("expected one clear per run, got %d", store.cleared)
	}

	again := store.stored()
	if len(snapshot) != len(again) {
		t.Fatalf("match tables differ in size: %d vs %d", len(snapshot), len(again))
	}
	for i := range snapshot {
		if snapshot[i] != again[i] {
			t.Fatalf("match table diverged at %d: %+v vs %+v", i, snapshot[i], again[i])
		}
	}
}

func TestRunSemanticFailureDegradesToNoMatches(t *testing.T) {
	store := &stubStore{}
	scorer := &stubScorer{err: errors.New("model unavailable")}
	engine := NewEngine(store, scorer, Config{}, zap.NewNop())

	persisted, err := engine.Run(context.Background(), []*funding.Incentive{incentive(1, openCriteria)}, companiesFixture(3), 5)
	if err != nil {
		t.Fatalf("semantic failure must not fail the run: %v", err)
	}
	if persisted != 0 {
		t.Fatalf("expected 0 persisted matches after degradation, got %d", persisted)
	}
	if len(store.stored()) != 0 {
		t.Fatalf("expected no stored matches, got %v", store.stored())
	}

	skipped := engine.Report().Skipped()
	if len(skipped) != 1 || skipped[0].Reason != "no positive semantic scores" {
		t.Fatalf("expected a skip record for the degraded incentive, got %+v", skipped)
	}
}

func TestRunClearFailureAborts(t *testing.T) {
	store := &stubStore{clearErr: errors.New("connection lost")}
	engine := NewEngine(store, &stubScorer{}, Config{}, zap.NewNop())

	_, err := engine.Run(context.Background(), []*funding.Incentive{incentive(1, openCriteria)}, companiesFixture(3), 5)
	if err == nil {
		t.Fatalf("expected the run to abort when the clear step fails")
	}
}

func TestRunInsertFailureAborts(t *testing.T) {
	store := &stubStore{insertErr: errors.New("disk full")}
	scorer := &stubScorer{scores: map[string]float64{"nif-000": 0.9}}
	engine := NewEngine(store, scorer, Config{}, zap.NewNop())

	_, err := engine.Run(context.Background(), []*funding.Incentive{incentive(1, openCriteria)}, companiesFixture(1), 5)
	if err == nil {
		t.Fatalf("expected the run to abort when persistence fails")
	}
}

func TestRunSkipsUnparseableCriteria(t *testing.T) {
	store := &stubStore{}
	scorer := &stubScorer{scores: map[string]float64{"nif-000": 0.9}}
	engine := NewEngine(store, scorer, Config{}, zap.NewNop())

	incentives := []*funding.Incentive{
		incentive(1, "{not json"),
		incentive(2, openCriteria),
	}

	persisted, err := engine.Run(context.Background(), incentives, companiesFixture(1), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 1 {
		t.Fatalf("expected the valid incentive to match, got %d", persisted)
	}

	skipped := engine.Report().Skipped()
	if len(skipped) != 1 || skipped[0].IncentiveID != 1 {
		t.Fatalf("expected incentive 1 to be reported as skipped, got %+v", skipped)
	}
}

func TestRunRuleThresholdFiltersCandidates(t *testing.T) {
	store := &stubStore{}
	scorer := &stubScorer{scores: map[string]float64{"match": 0.9, "miss": 0.9}}
	engine := NewEngine(store, scorer, Config{}, zap.NewNop())

	// Criteria constrained to CAE 62, Norte, large companies: the second
	// company scores 0 on every dimension and must never reach the scorer.
	criteria := `{"caes": ["62"], "geographic_location": "Norte e Braga", "dimension": "Grandes Empresas", "object": "", "criterios": ""}`
	companies := []*funding.Company{
		{NIF: "match", CAEPrimaryCode: "62", City: "Braga", Employees: 500},
		{NIF: "miss", CAEPrimaryCode: "10", City: "Lisboa", Employees: 10},
	}

	persisted, err := engine.Run(context.Background(), []*funding.Incentive{incentive(1, criteria)}, companies, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if persisted != 1 {
		t.Fatalf("expected only the qualifying company to match, got %d", persisted)
	}

	if len(scorer.requests) != 1 || len(scorer.requests[0].Candidates) != 1 {
		t.Fatalf("expected a single rule-stage candidate in the batch, got %+v", scorer.requests)
	}
	if scorer.requests[0].Candidates[0].NIF != "match" {
		t.Fatalf("wrong candidate survived the rule stage: %+v", scorer.requests[0].Candidates)
	}
}

func TestRunCandidatePoolCapsBatchSize(t *testing.T) {
	store := &stubStore{}
	scorer := &stubScorer{scores: map[string]float64{}}
	engine := NewEngine(store, scorer, Config{CandidatePool: 10}, zap.NewNop())

	_, err := engine.Run(context.Background(), []*funding.Incentive{incentive(1, openCriteria)}, companiesFixture(40), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(scorer.requests) != 1 {
		t.Fatalf("expected one semantic call per incentive, got %d", len(scorer.requests))
	}
	if got := len(scorer.requests[0].Candidates); got != 10 {
		t.Fatalf("expected the batch capped at the candidate pool, got %d", got)
	}
}

func TestRunParallelMatchesSequential(t *testing.T) {
	scores := map[string]float64{
		"nif-000": 0.9,
		"nif-001": 0.8,
		"nif-002": 0.7,
	}
	incentives := []*funding.Incentive{
		incentive(1, openCriteria),
		incentive(2, openCriteria),
		incentive(3, openCriteria),
		incentive(4, "{broken"),
	}
	companies := companiesFixture(3)

	seqStore := &stubStore{}
	seq := NewEngine(seqStore, &stubScorer{scores: scores}, Config{}, zap.NewNop())
	seqCount, err := seq.Run(context.Background(), incentives, companies, 2)
	if err != nil {
		t.Fatalf("sequential run failed: %v", err)
	}

	parStore := &stubStore{}
	par := NewEngine(parStore, &stubScorer{scores: scores}, Config{Workers: 3}, zap.NewNop())
	parCount, err := par.Run(context.Background(), incentives, companies, 2)
	if err != nil {
		t.Fatalf("parallel run failed: %v", err)
	}

	if seqCount != parCount {
		t.Fatalf("parallel run persisted %d matches, sequential %d", parCount, seqCount)
	}

	normalize := func(matches []funding.Match) []funding.Match {
		sort.Slice(matches, func(i, j int) bool {
			if matches[i].IncentiveID != matches[j].IncentiveID {
				return matches[i].IncentiveID < matches[j].IncentiveID
			}
			return matches[i].CompanyNIF < matches[j].CompanyNIF
		})
		return matches
	}

	seqMatches := normalize(seqStore.stored())
	parMatches := normalize(parStore.stored())
	if len(seqMatches) != len(parMatches) {
		t.Fatalf("match sets differ in size: %d vs %d", len(seqMatches), len(parMatches))
	}
	for i := range seqMatches {
		if seqMatches[i] != parMatches[i] {
			t.Fatalf("match sets diverge at %d: %+v vs %+v", i, seqMatches[i], parMatches[i])
		}
	}
}
