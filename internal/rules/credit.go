package rules

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"loan-lifecycle/internal/models"
)

const (
	MinCreditScore      = 300
	MaxCreditScore      = 850
	CreditApprovalScore = 650
)

// CreditScorer produces a score for an applicant with none on file.
type CreditScorer interface {
	Score(ctx context.Context, app *models.LoanApplication) (int, error)
}

// RandomScorer stands in for a bureau call with a uniform draw in [300, 850).
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomScorer(seed int64) *RandomScorer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomScorer{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomScorer) Score(_ context.Context, _ *models.LoanApplication) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MinCreditScore + s.rng.Intn(MaxCreditScore-MinCreditScore), nil
}

// FixedScorer always returns the same score.
type FixedScorer int

func (f FixedScorer) Score(context.Context, *models.LoanApplication) (int, error) {
	return int(f), nil
}

// CreditResult is the outcome of a credit check.
type CreditResult struct {
	Score           int
	Approved        bool
	RejectionReason string
	// Reused is true when the score came from the record rather than a new lookup.
	Reused bool
}

// Credit decides on the stored score, then the supplied one, then the scorer.
func Credit(ctx context.Context, app *models.LoanApplication, supplied *int, scorer CreditScorer) (CreditResult, error) {
	var (
		score  int
		reused bool
	)
	switch {
	case app.CreditScore != nil:
		score, reused = *app.CreditScore, true
	case supplied != nil:
		score = *supplied
	default:
		s, err := scorer.Score(ctx, app)
		if err != nil {
			return CreditResult{}, fmt.Errorf("credit scorer: %w", err)
		}
		score = s
	}

	res := CreditResult{Score: score, Approved: score >= CreditApprovalScore, Reused: reused}
	if !res.Approved {
		res.RejectionReason = fmt.Sprintf("Credit score too low: %d. Minimum required: %d", score, CreditApprovalScore)
	}
	return res, nil
}
