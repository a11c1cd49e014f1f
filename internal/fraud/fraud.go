package fraud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumapay/luma_ledger/internal/money"
)

// Result is the outcome of evaluating a transaction against the rule set.
type Result string

const (
	Passed           Result = "PASSED"
	RejectedSanction Result = "REJECTED_SANCTION"
	RejectedVelocity Result = "REJECTED_VELOCITY"
)

// Check carries the transaction context the rules evaluate.
type Check struct {
	UserID        string
	Amount        money.Money
	TargetAccount string
}

// Rule evaluates one independent fraud signal. Evaluation must respect the
// context deadline; the pipeline budget is tens of milliseconds.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, check Check) (Result, error)
}

// DefaultBudget bounds a full pipeline evaluation.
const DefaultBudget = 50 * time.Millisecond

// rejectionError smuggles a non-passing result through the errgroup so the
// first rejection cancels the remaining rules.
type rejectionError struct {
	result Result
}

func (e rejectionError) Error() string { return "rule rejected: " + string(e.result) }

// Pipeline runs an immutable rule set concurrently and reduces to the first
// non-passing result, or Passed when every rule passes.
type Pipeline struct {
	rules  []Rule
	budget time.Duration
}

// NewPipeline builds a pipeline over the given rules.
func NewPipeline(budget time.Duration, rules ...Rule) *Pipeline {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Pipeline{rules: rules, budget: budget}
}

// Check fans the rules out in parallel. The first rejection observed wins and
// cancels the rest; an unexpected rule error is surfaced as an error distinct
// from an explicit rejection.
func (p *Pipeline) Check(ctx context.Context, check Check) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, rule := range p.rules {
		rule := rule
		g.Go(func() error {
			result, err := rule.Evaluate(ctx, check)
			if err != nil {
				return fmt.Errorf("rule %s: %w", rule.Name(), err)
			}
			if result != Passed {
				return rejectionError{result: result}
			}
			return nil
		})
	}

	err := g.Wait()
	var rejection rejectionError
	if errors.As(err, &rejection) {
		return rejection.result, nil
	}
	if err != nil {
		return "", err
	}
	return Passed, nil
}

// SanctionListRule rejects users present on a static denylist.
type SanctionListRule struct {
	denied map[string]struct{}
}

// NewSanctionListRule builds the rule from a list of sanctioned user ids.
func NewSanctionListRule(userIDs ...string) *SanctionListRule {
	denied := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		denied[id] = struct{}{}
	}
	return &SanctionListRule{denied: denied}
}

func (r *SanctionListRule) Name() string { return "sanction_list" }

func (r *SanctionListRule) Evaluate(_ context.Context, check Check) (Result, error) {
	if _, sanctioned := r.denied[check.UserID]; sanctioned {
		return RejectedSanction, nil
	}
	return Passed, nil
}

// VelocityRule rejects a user exceeding a maximum number of transfers inside
// a sliding window.
type VelocityRule struct {
	window time.Duration
	max    int

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewVelocityRule builds the rule; max attempts per window per user.
func NewVelocityRule(max int, window time.Duration) *VelocityRule {
	return &VelocityRule{window: window, max: max, events: make(map[string][]time.Time)}
}

func (r *VelocityRule) Name() string { return "velocity" }

func (r *VelocityRule) Evaluate(_ context.Context, check Check) (Result, error) {
	now := time.Now()
	cutoff := now.Add(-r.window)

	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.events[check.UserID][:0]
	for _, at := range r.events[check.UserID] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) >= r.max {
		r.events[check.UserID] = recent
		return RejectedVelocity, nil
	}
	r.events[check.UserID] = append(recent, now)
	return Passed, nil
}

// Verifier adapts the pipeline to the saga coordinator's fraud contract: an
// explicit rejection returns false, an infrastructure failure returns error.
type Verifier struct {
	pipeline *Pipeline
}

// NewVerifier wraps a pipeline.
func NewVerifier(pipeline *Pipeline) *Verifier {
	return &Verifier{pipeline: pipeline}
}

// VerifyTransaction reports whether the transfer passes all fraud rules.
func (v *Verifier) VerifyTransaction(ctx context.Context, userID string, amount money.Money, targetAccount string) (bool, error) {
	result, err := v.pipeline.Check(ctx, Check{UserID: userID, Amount: amount, TargetAccount: targetAccount})
	if err != nil {
		return false, err
	}
	return result == Passed, nil
}
