package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

// ProjectionError reports an operation that could not be applied.
type ProjectionError struct {
	Op  Operation
	Err error
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProjectionError) Unwrap() error { return e.Err }

// Summary is the outcome of a projection.
type Summary struct {
	Planned  int                `json:"planned"`
	Applied  int                `json:"applied"`
	Failed   []*ProjectionError `json:"-"`
	Unlinked int                `json:"unlinked"`
	Canceled bool               `json:"canceled"`
	Duration time.Duration      `json:"-"`
}

// FailedCount returns the number of failed operations, including methods
// that could not be linked.
func (s *Summary) FailedCount() int { return len(s.Failed) }

// FailedOps renders every failed operation with its error.
func (s *Summary) FailedOps() []string {
	out := make([]string, 0, len(s.Failed))
	for _, pe := range s.Failed {
		out = append(out, pe.Error())
	}
	return out
}

// MarshalJSON reports the duration in milliseconds and lists the failed
// operations.
func (s *Summary) MarshalJSON() ([]byte, error) {
	type summary Summary
	return json.Marshal(struct {
		*summary
		DurationMS int64    `json:"duration_ms"`
		FailedOps  []string `json:"failed_operations"`
	}{
		summary:    (*summary)(s),
		DurationMS: s.Duration.Milliseconds(),
		FailedOps:  s.FailedOps(),
	})
}

// Projector writes codebase facts to a Store.
type Projector struct {
	store  Store
	opts   PlanOptions
	logger *slog.Logger
	// OnApply, if set, is called after every attempted operation.
	OnApply func(op Operation, err error)
}

// NewProjector creates a Projector.
func NewProjector(store Store, opts PlanOptions, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: store, opts: opts, logger: logger}
}

// Project plans and applies cb. Each operation is applied independently; a
// failure is recorded and projection continues. Cancellation stops the plan
// between operations.
func (p *Projector) Project(ctx context.Context, cb *facts.Codebase) *Summary {
	start := time.Now()
	plan := BuildPlan(cb, p.opts)
	sum := &Summary{Planned: len(plan.Ops), Unlinked: len(plan.Unlinked)}

	for _, pe := range plan.Unlinked {
		p.logger.Error("method not linked", "op", pe.Op.String(), "error", pe.Err)
		sum.Failed = append(sum.Failed, pe)
	}

	for _, op := range plan.Ops {
		if ctx.Err() != nil {
			sum.Canceled = true
			break
		}
		err := op.Validate()
		if err == nil {
			err = p.store.Apply(ctx, op)
		}
		if p.OnApply != nil {
			p.OnApply(op, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				sum.Canceled = true
				break
			}
			p.logger.Error("graph operation failed", "op", op.String(), "error", err)
			sum.Failed = append(sum.Failed, &ProjectionError{Op: op, Err: err})
			continue
		}
		sum.Applied++
	}

	sum.Duration = time.Since(start)
	p.logger.Info("projection finished",
		"planned", sum.Planned,
		"applied", sum.Applied,
		"failed", len(sum.Failed),
		"canceled", sum.Canceled,
	)
	return sum
}
