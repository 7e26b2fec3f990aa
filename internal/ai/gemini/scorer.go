package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/davidpt/incentive-matcher/internal/ai"
	"github.com/davidpt/incentive-matcher/internal/logger"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Scorer implements ai.BatchScorer on top of a Gemini content generator.
// Total failures degrade to zero scores for the whole batch; the matching
// engine never sees an error from the semantic stage.
type Scorer struct {
	generator   contentGenerator
	callTimeout time.Duration
	logger      *zap.Logger
	maxLogLen   int
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	defaultCallTimeout  = 90 * time.Second
)

var _ ai.BatchScorer = (*Scorer)(nil)

// NewScorer builds the Gemini-backed batch scorer.
func NewScorer(generator contentGenerator, callTimeout time.Duration, maxLogLength int, log *zap.Logger) *Scorer {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Scorer{
		generator:   generator,
		callTimeout: callTimeout,
		logger:      log,
		maxLogLen:   maxLogLength,
	}
}

// ScoreBatch scores the request candidates against the incentive's objective
// and eligibility text. The returned list is a subset of the request batch:
// candidates the model omits are absent, unknown identifiers are dropped and
// out-of-range scores are clamped into [0,1]. When the call or the payload
// fails entirely, every candidate in the batch gets a zero score.
func (s *Scorer) ScoreBatch(ctx context.Context, req *ai.BatchRequest) ([]ai.CandidateScore, error) {
	if req == nil || len(req.Candidates) == 0 {
		return nil, nil
	}

	prompt := buildPrompt(req)

	s.logger.Debug("gemini batch scoring request",
		zap.Int("candidates", len(req.Candidates)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, s.maxLogLen)),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	raw, err := s.generator.GenerateContent(callCtx, prompt)
	if err != nil {
		s.logger.Warn("gemini batch scoring failed, degrading to zero scores",
			zap.Int("candidates", len(req.Candidates)),
			zap.Error(err),
		)
		return ai.ZeroScores(req), nil
	}

	s.logger.Debug("gemini batch scoring response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logger.TruncateForLog(raw, s.maxLogLen)),
	)

	scores, err := parseScores(raw, req)
	if err != nil {
		s.logger.Warn("gemini response unusable, degrading to zero scores",
			zap.Int("candidates", len(req.Candidates)),
			zap.Error(err),
		)
		return ai.ZeroScores(req), nil
	}

	return scores, nil
}

func buildPrompt(req *ai.BatchRequest) string {
	var companies strings.Builder
	for i, candidate := range req.Candidates {
		fmt.Fprintf(&companies, "%d. Company %s: %s, CAE: %s, City: %s, Description: %s\n",
			i+1, candidate.NIF, candidate.Name, candidate.CAECode, candidate.City, candidate.Description)
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{OBJECTIVE}}", req.Objective)
	prompt = strings.ReplaceAll(prompt, "{{CRITERIA}}", req.Eligibility)
	prompt = strings.ReplaceAll(prompt, "{{COMPANIES}}", strings.TrimRight(companies.String(), "\n"))
	return prompt
}

// parseScores decodes the model's JSON list of {nif, score} items. Decoding is
// weakly typed since models occasionally quote numbers. The result keeps the
// model's order so downstream tie-breaking is stable.
func parseScores(raw string, req *ai.BatchRequest) ([]ai.CandidateScore, error) {
	cleaned := extractJSON(raw)

	var items []any
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	var decoded []ai.CandidateScore
	cfg := &mapstructure.DecoderConfig{
		Result:           &decoded,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode score items: %w", err)
	}

	known := make(map[string]struct{}, len(req.Candidates))
	for _, candidate := range req.Candidates {
		known[candidate.NIF] = struct{}{}
	}

	scores := make([]ai.CandidateScore, 0, len(decoded))
	seen := make(map[string]struct{}, len(decoded))
	for _, item := range decoded {
		nif := strings.TrimSpace(item.NIF)
		if _, ok := known[nif]; !ok {
			continue
		}
		if _, dup := seen[nif]; dup {
			continue
		}
		seen[nif] = struct{}{}

		score := item.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}

		scores = append(scores, ai.CandidateScore{NIF: nif, Score: score})
	}

	return scores, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
