// internal/audit/audit.go
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// errQueryFailed replaces query errors in reports. The cause is logged.
const errQueryFailed = "query failed"

// Check is one consistency rule: a query whose value must satisfy a threshold.
type Check struct {
	Name        string
	Description string
	Query       func(context.Context) (int64, error)
	Threshold   Threshold
}

type Threshold struct {
	Operator string  `yaml:"operator" json:"operator"` // >, <, >=, <=, ==
	Value    float64 `yaml:"value" json:"value"`
}

// Result is the outcome of one check.
type Result struct {
	Check     string    `yaml:"check" json:"check"`
	Value     int64     `yaml:"value" json:"value"`
	Threshold Threshold `yaml:"threshold" json:"threshold"`
	Passed    bool      `yaml:"passed" json:"passed"`
	Error     string    `yaml:"error,omitempty" json:"error,omitempty"`
}

// Report collects the results of one audit run.
type Report struct {
	StartedAt time.Time     `yaml:"started_at" json:"started_at"`
	Duration  time.Duration `yaml:"duration" json:"duration"`
	Healthy   bool          `yaml:"healthy" json:"healthy"`
	Results   []Result      `yaml:"results" json:"results"`
}

// Violations returns the results that failed or errored.
func (r *Report) Violations() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Engine runs registered checks and keeps the last report.
type Engine struct {
	tracer trace.Tracer
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	checks  []Check
	last    *Report
	observe []func(*Report)
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("bookmanager/audit"),
		logger: logger,
		now:    time.Now,
	}
}

// Register adds checks to the engine.
func (e *Engine) Register(checks ...Check) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks = append(e.checks, checks...)
}

// OnReport registers fn to be called after every run.
func (e *Engine) OnReport(fn func(*Report)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observe = append(e.observe, fn)
}

func (e *Engine) Checks() []Check {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Check(nil), e.checks...)
}

// Override replaces thresholds by check name. Unknown names are an error.
func (e *Engine) Override(thresholds map[string]Threshold) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, t := range thresholds {
		if !validOperator(t.Operator) {
			return fmt.Errorf("check %s: unknown operator %q", name, t.Operator)
		}
		found := false
		for i := range e.checks {
			if e.checks[i].Name == name {
				e.checks[i].Threshold = t
				found = true
			}
		}
		if !found {
			return fmt.Errorf("unknown check %q", name)
		}
	}
	return nil
}

// Run evaluates every registered check. A failing query marks its check as
// not passed and does not stop the others.
func (e *Engine) Run(ctx context.Context) *Report {
	ctx, span := e.tracer.Start(ctx, "audit.run")
	defer span.End()

	checks := e.Checks()
	report := &Report{StartedAt: e.now(), Healthy: true, Results: make([]Result, 0, len(checks))}
	for _, c := range checks {
		res := Result{Check: c.Name, Threshold: c.Threshold}
		value, err := c.Query(ctx)
		if err != nil {
			res.Error = errQueryFailed
			span.RecordError(err)
			e.logger.ErrorContext(ctx, "audit query failed", "check", c.Name, "error", err)
		} else {
			res.Value = value
			res.Passed = evaluateThreshold(float64(value), c.Threshold)
		}
		if !res.Passed {
			report.Healthy = false
		}
		report.Results = append(report.Results, res)
	}
	report.Duration = e.now().Sub(report.StartedAt)

	violations := report.Violations()
	span.SetAttributes(
		attribute.Bool("healthy", report.Healthy),
		attribute.Int("violations", len(violations)),
	)
	for _, v := range violations {
		e.logger.WarnContext(ctx, "audit check failed",
			"check", v.Check, "value", v.Value, "operator", v.Threshold.Operator, "threshold", v.Threshold.Value)
	}

	e.mu.Lock()
	e.last = report
	observe := e.observe
	e.mu.Unlock()
	for _, fn := range observe {
		fn(report)
	}
	return report
}

// Last returns the most recent report, or nil before the first run.
func (e *Engine) Last() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Schedule runs the engine every interval until ctx is done.
func (e *Engine) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Run(ctx)
		}
	}
}

func validOperator(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "==":
		return true
	}
	return false
}

func evaluateThreshold(value float64, threshold Threshold) bool {
	switch threshold.Operator {
	case ">":
		return value > threshold.Value
	case "<":
		return value < threshold.Value
	case ">=":
		return value >= threshold.Value
	case "<=":
		return value <= threshold.Value
	case "==":
		return value == threshold.Value
	default:
		return false
	}
}
