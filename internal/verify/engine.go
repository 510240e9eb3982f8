// Package verify checks that a human resolution was actually applied before
// a task is closed.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"creative-review-engine/internal/models"
)

// ErrVerificationFailed is returned by MarkTaskComplete when live state does
// not match and no override was given.
var ErrVerificationFailed = errors.New("verify: verification_failed")

// StateAccessor reads live values owned by other systems. Fields maps field
// names to their current values; missing fields are simply absent.
type StateAccessor interface {
	Fields(ctx context.Context, task models.ReviewTask, fields []string) (map[string]any, error)
}

// TaskStore is the slice of the task service the engine needs.
type TaskStore interface {
	Get(ctx context.Context, tenantID, taskID string) (models.ReviewTask, error)
	Complete(ctx context.Context, tenantID, taskID string, resolution models.Resolution, detail, resolvedBy string) (models.ReviewTask, error)
}

type Result struct {
	Verified      bool           `json:"verified"`
	ActualState   map[string]any `json:"actual_state"`
	ExpectedState map[string]any `json:"expected_state"`
	Discrepancies []string       `json:"discrepancies"`
}

type Engine struct {
	tasks    TaskStore
	accessor StateAccessor
	log      *slog.Logger
}

func NewEngine(tasks TaskStore, accessor StateAccessor, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{tasks: tasks, accessor: accessor, log: log}
}

// Verify compares expected against live state. A nil expected map falls
// back to the task's declared expected outcome.
func (e *Engine) Verify(ctx context.Context, tenantID, taskID string, expected map[string]any) (Result, error) {
	task, err := e.tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		return Result{}, err
	}
	return e.verifyTask(ctx, task, expected)
}

func (e *Engine) verifyTask(ctx context.Context, task models.ReviewTask, expected map[string]any) (Result, error) {
	if expected == nil {
		expected = task.Context.ExpectedOutcome
	}
	res := Result{
		ExpectedState: expected,
		ActualState:   map[string]any{},
		Discrepancies: []string{},
	}
	if len(expected) == 0 {
		res.Verified = true
		return res, nil
	}

	fields := make([]string, 0, len(expected))
	for f := range expected {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	actual, err := e.accessor.Fields(ctx, task, fields)
	if err != nil {
		return Result{}, fmt.Errorf("read live state: %w", err)
	}
	for _, f := range fields {
		got, ok := actual[f]
		if !ok {
			res.Discrepancies = append(res.Discrepancies, fmt.Sprintf("%s: expected %v, field not found", f, expected[f]))
			continue
		}
		res.ActualState[f] = got
		if !Equal(f, expected[f], got) {
			res.Discrepancies = append(res.Discrepancies, fmt.Sprintf("%s: expected %v, got %v", f, expected[f], got))
		}
	}
	res.Verified = len(res.Discrepancies) == 0
	return res, nil
}

// MarkTaskComplete verifies first. Without override a failed verification
// returns ErrVerificationFailed and leaves the task untouched.
func (e *Engine) MarkTaskComplete(ctx context.Context, tenantID, taskID string, override bool, completedBy string) (Result, models.ReviewTask, error) {
	task, err := e.tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		return Result{}, models.ReviewTask{}, err
	}
	res, err := e.verifyTask(ctx, task, nil)
	if err != nil {
		if !override {
			return Result{}, models.ReviewTask{}, err
		}
		e.log.Warn("verification unavailable, completing with override", "task_id", taskID, "err", err)
		res = Result{Discrepancies: []string{err.Error()}}
	}
	if !res.Verified && !override {
		return res, task, fmt.Errorf("%w: %s", ErrVerificationFailed, strings.Join(res.Discrepancies, "; "))
	}

	detail := "verified"
	if !res.Verified {
		detail = "completed with verification override: " + strings.Join(res.Discrepancies, "; ")
	}
	done, err := e.tasks.Complete(ctx, tenantID, taskID, models.ResolutionCompleted, detail, completedBy)
	if err != nil {
		return res, task, err
	}
	return res, done, nil
}

// Equal compares values by kind. Numbers compare within a tolerance that is
// looser for currency fields, and a numeric expectation accepts a numeric
// string such as "12.50". Strings compare case-insensitively and are never
// read as numbers, so "007" differs from "7".
func Equal(field string, expected, actual any) bool {
	if ef, ok := toFloat(expected); ok {
		af, ok := toFloat(actual)
		if !ok {
			s, isString := actual.(string)
			if !isString {
				return false
			}
			if af, ok = parseNumber(s); !ok {
				return false
			}
		}
		return math.Abs(ef-af) <= tolerance(field)
	}
	if es, ok := expected.(string); ok {
		as, ok := actual.(string)
		if !ok {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(es), strings.TrimSpace(as))
	}
	if eb, ok := expected.(bool); ok {
		ab, ok := actual.(bool)
		return ok && eb == ab
	}
	return reflect.DeepEqual(normalise(expected), normalise(actual))
}

var currencyHints = []string{"budget", "amount", "price", "cpm", "spend", "cost", "rate"}

func tolerance(field string) float64 {
	f := strings.ToLower(field)
	for _, h := range currencyHints {
		if strings.Contains(f, h) {
			return 0.01
		}
	}
	return 1e-9
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// normalise round-trips through JSON so typed slices and maps compare with
// their decoded equivalents.
func normalise(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
