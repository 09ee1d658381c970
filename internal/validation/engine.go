package validation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/periodic-erp/periodic/internal/ledger"
	"github.com/periodic-erp/periodic/internal/shared"
)

// Result is the outcome of one validation run.
type Result struct {
	RedIssues    []Issue
	YellowIssues []Issue
	IssuesFound  int
}

// Issues returns the ordered union, red before yellow.
func (r Result) Issues() []Issue {
	out := make([]Issue, 0, len(r.RedIssues)+len(r.YellowIssues))
	out = append(out, r.RedIssues...)
	out = append(out, r.YellowIssues...)
	return out
}

// Engine fetches ledger facts and runs the detector pipeline over them.
type Engine struct {
	reader    ledger.Reader
	detectors []Detector
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine constructs Engine with the default detector set.
func NewEngine(reader ledger.Reader, logger *slog.Logger) *Engine {
	return &Engine{
		reader:    reader,
		detectors: defaultDetectors(),
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run fetches all fact categories concurrently and evaluates every detector.
// If any read fails the whole run fails and nothing is reported, so a partial
// picture can never look like a clean one.
func (e *Engine) Run(ctx context.Context, scope Scope) (Result, error) {
	var facts ledger.Facts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		facts.Journals, err = e.reader.JournalEntries(gctx, scope.AdministrationID, scope.From, scope.To)
		return err
	})
	g.Go(func() error {
		var err error
		facts.OpenItems, err = e.reader.OpenItems(gctx, scope.AdministrationID, scope.To)
		return err
	})
	g.Go(func() error {
		var err error
		facts.Depreciations, err = e.reader.DepreciationSchedules(gctx, scope.AdministrationID, scope.From, scope.To)
		return err
	})
	g.Go(func() error {
		var err error
		facts.VATLines, err = e.reader.VATLines(gctx, scope.AdministrationID, scope.From, scope.To)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", shared.ErrLedgerUnavailable, err)
	}

	detectedAt := e.now().UTC()
	order := make(map[uuid.UUID]int)
	var all []Issue
	for detectorIdx, detect := range e.detectors {
		for _, issue := range detect(scope, facts) {
			issue.DetectedAt = detectedAt
			order[issue.ID] = detectorIdx
			all = append(all, issue)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Severity != all[j].Severity {
			return all[i].Severity == SeverityRed
		}
		if order[all[i].ID] != order[all[j].ID] {
			return order[all[i].ID] < order[all[j].ID]
		}
		return all[i].ID.String() < all[j].ID.String()
	})

	var result Result
	for i := range all {
		all[i].Position = i
		if all[i].Severity == SeverityRed {
			result.RedIssues = append(result.RedIssues, all[i])
		} else {
			result.YellowIssues = append(result.YellowIssues, all[i])
		}
	}
	result.IssuesFound = len(all)

	e.logger.Info("validation run complete",
		slog.String("administration_id", scope.AdministrationID.String()),
		slog.String("period_id", scope.PeriodID.String()),
		slog.Int("red", len(result.RedIssues)),
		slog.Int("yellow", len(result.YellowIssues)))
	return result, nil
}
