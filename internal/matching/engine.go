package matching

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/davidpt/incentive-matcher/internal/ai"
	"github.com/davidpt/incentive-matcher/internal/funding"
)

// Funnel defaults. The rule stage is cheap and broad, the semantic stage is
// expensive and only ever sees at most CandidatePool companies per incentive.
const (
	DefaultTopK          = 5
	DefaultCandidatePool = 50
	DefaultMinRuleScore  = 0.1
)

// MatchStore persists match rows. Both operations participate in the engine's
// run: ClearAll once before any insert, InsertBatch once per incentive inside
// a single transaction.
type MatchStore interface {
	ClearAll(ctx context.Context) error
	InsertBatch(ctx context.Context, matches []funding.Match) error
}

// Config tunes the two-stage funnel.
type Config struct {
	// TopK is the number of matches persisted per incentive. The Run argument
	// takes precedence when positive.
	TopK int
	// CandidatePool caps how many rule-stage candidates reach the semantic
	// scorer per incentive.
	CandidatePool int
	// MinRuleScore is the strict lower bound a rule score must exceed to keep
	// a company in the funnel.
	MinRuleScore float64
	// Workers parallelizes the per-incentive funnel when greater than one.
	// The clear step always happens before any incentive is processed.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.CandidatePool <= 0 {
		c.CandidatePool = DefaultCandidatePool
	}
	if c.MinRuleScore <= 0 {
		c.MinRuleScore = DefaultMinRuleScore
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	return c
}

// Engine drives the hybrid matching pipeline: deterministic rule filtering
// followed by semantic refinement, persisting the top results per incentive.
type Engine struct {
	store  MatchStore
	scorer ai.BatchScorer
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	report *Report
}

// NewEngine constructs the orchestrator.
func NewEngine(store MatchStore, scorer ai.BatchScorer, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		scorer: scorer,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Run executes one matching run over the given snapshots and returns the
// number of matches persisted. When either input set is empty it returns 0
// without touching the store, not even the clear step. A failing clear or
// insert aborts the run: the match table must never silently hold a mix of
// runs. Semantic-stage failures never abort; they degrade per incentive.
func (e *Engine) Run(ctx context.Context, incentives []*funding.Incentive, companies []*funding.Company, k int) (int, error) {
	e.mu.Lock()
	e.report = NewReport()
	e.mu.Unlock()

	if len(incentives) == 0 || len(companies) == 0 {
		e.logger.Info("not enough data to perform matching",
			zap.Int("incentives", len(incentives)),
			zap.Int("companies", len(companies)),
		)
		return 0, nil
	}

	if k <= 0 {
		k = e.cfg.TopK
	}

	e.logger.Info("starting hybrid matching run",
		zap.Int("incentives", len(incentives)),
		zap.Int("companies", len(companies)),
		zap.Int("top_k", k),
		zap.Int("workers", e.cfg.Workers),
	)

	if err := e.store.ClearAll(ctx); err != nil {
		return 0, fmt.Errorf("clear matches: %w", err)
	}

	if e.cfg.Workers > 1 {
		return e.runParallel(ctx, incentives, companies, k)
	}
	return e.runSequential(ctx, incentives, companies, k)
}

// Report returns the observability report of the most recent run.
func (e *Engine) Report() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

func (e *Engine) runSequential(ctx context.Context, incentives []*funding.Incentive, companies []*funding.Company, k int) (int, error) {
	persisted := 0
	for _, incentive := range incentives {
		matches := e.matchIncentive(ctx, incentive, companies, k)
		if len(matches) == 0 {
			continue
		}
		if err := e.store.InsertBatch(ctx, matches); err != nil {
			return persisted, fmt.Errorf("persist matches for incentive %d: %w", incentive.ID, err)
		}
		persisted += len(matches)
		e.report.addPersisted(len(matches))
	}

	e.logger.Info("matching run complete", zap.Int("matches_persisted", persisted))
	return persisted, nil
}

// runParallel fans the per-incentive funnel out over a worker pool. Each
// incentive's inserts run in their own transaction, so runs interleave safely;
// the clear step already happened before any task was submitted.
func (e *Engine) runParallel(ctx context.Context, incentives []*funding.Incentive, companies []*funding.Company, k int) (int, error) {
	pool, err := ants.NewPool(e.cfg.Workers)
	if err != nil {
		return 0, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		persisted int
		firstErr  error
	)

	for _, incentive := range incentives {
		incentive := incentive
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()

			matches := e.matchIncentive(ctx, incentive, companies, k)
			if len(matches) == 0 {
				return
			}

			if err := e.store.InsertBatch(ctx, matches); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("persist matches for incentive %d: %w", incentive.ID, err)
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			persisted += len(matches)
			mu.Unlock()
			e.report.addPersisted(len(matches))
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("submit incentive %d: %w", incentive.ID, submitErr)
			}
			mu.Unlock()
		}
	}

	wg.Wait()

	if firstErr != nil {
		return persisted, firstErr
	}

	e.logger.Info("matching run complete", zap.Int("matches_persisted", persisted))
	return persisted, nil
}

// matchIncentive runs the two-stage funnel for one incentive and returns the
// match rows to persist. All skips are recorded in the run report and logged,
// never surfaced as errors.
func (e *Engine) matchIncentive(ctx context.Context, incentive *funding.Incentive, companies []*funding.Company, k int) []funding.Match {
	log := e.logger.With(
		zap.Int64("incentive_id", incentive.ID),
		zap.String("title", incentive.Title),
	)

	criteria, err := funding.ParseCriteria(incentive.AIDescription)
	if err != nil {
		log.Warn("skipping incentive with unusable criteria record", zap.Error(err))
		e.report.skip(incentive, fmt.Sprintf("unusable criteria record: %v", err))
		return nil
	}

	candidates := e.ruleStage(criteria, companies)
	if len(candidates) == 0 {
		log.Info("no companies above the rule-stage threshold")
		e.report.skip(incentive, "no companies above the rule-stage threshold")
		return nil
	}

	scores := e.semanticStage(ctx, criteria, candidates)

	top := topSemantic(scores, k)
	if len(top) == 0 {
		log.Info("no positive semantic scores", zap.Int("rule_candidates", len(candidates)))
		e.report.skip(incentive, "no positive semantic scores")
		return nil
	}

	matches := make([]funding.Match, 0, len(top))
	for _, score := range top {
		matches = append(matches, funding.Match{
			IncentiveID: incentive.ID,
			CompanyNIF:  score.NIF,
			Score:       score.Score,
		})
	}

	log.Info("incentive matched",
		zap.Int("rule_candidates", len(candidates)),
		zap.Int("matches", len(matches)),
	)

	return matches
}

// ruleStage scores every company deterministically and returns the top
// candidates above the threshold, sorted by descending rule score with ties
// kept in input order.
func (e *Engine) ruleStage(criteria *funding.Criteria, companies []*funding.Company) []*funding.Company {
	type scored struct {
		company *funding.Company
		score   float64
	}

	kept := make([]scored, 0, len(companies))
	for _, company := range companies {
		if score := Score(criteria, company); score > e.cfg.MinRuleScore {
			kept = append(kept, scored{company: company, score: score})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})

	if len(kept) > e.cfg.CandidatePool {
		kept = kept[:e.cfg.CandidatePool]
	}

	candidates := make([]*funding.Company, len(kept))
	for i, item := range kept {
		candidates[i] = item.company
	}
	return candidates
}

// semanticStage hands the full candidate batch to the semantic scorer once.
// An error from the scorer is treated the same as a total degradation: every
// candidate in the batch scores zero.
func (e *Engine) semanticStage(ctx context.Context, criteria *funding.Criteria, candidates []*funding.Company) []ai.CandidateScore {
	req := &ai.BatchRequest{
		Objective:   criteria.Objective,
		Eligibility: criteria.Eligibility,
		Candidates:  make([]ai.Candidate, len(candidates)),
	}
	for i, company := range candidates {
		req.Candidates[i] = ai.Candidate{
			NIF:         company.NIF,
			Name:        company.Name,
			CAECode:     company.CAEPrimaryCode,
			City:        company.City,
			Description: company.TradeDescription,
		}
	}

	scores, err := e.scorer.ScoreBatch(ctx, req)
	if err != nil {
		e.logger.Warn("semantic scorer failed, degrading batch to zero scores",
			zap.Int("candidates", len(candidates)),
			zap.Error(err),
		)
		return ai.ZeroScores(req)
	}
	return scores
}

// topSemantic keeps the strictly positive semantic scores, sorts them
// descending while preserving the scorer's order on ties, and truncates to k.
func topSemantic(scores []ai.CandidateScore, k int) []ai.CandidateScore {
	positive := make([]ai.CandidateScore, 0, len(scores))
	for _, score := range scores {
		if score.Score > 0 {
			positive = append(positive, score)
		}
	}

	sort.SliceStable(positive, func(i, j int) bool {
		return positive[i].Score > positive[j].Score
	})

	if len(positive) > k {
		positive = positive[:k]
	}
	return positive
}
