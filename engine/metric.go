package engine

import (
	"fmt"
	"reflect"
)

// UnaryMetric scores a task output alone.
type UnaryMetric func(output any) (any, error)

// BinaryMetric scores a task output against the expected output.
type BinaryMetric func(output, expected any) (any, error)

// TernaryMetric scores a task output against the expected output and the
// raw input.
type TernaryMetric func(output, expected, input any) (any, error)

// Metric is a named scoring function of one of the three recognized arities.
type Metric struct {
	name string
	call func(output, expected, input any) (any, error)
	fnID uintptr
}

// MetricFunc wraps a unary scoring function.
func MetricFunc(name string, fn UnaryMetric) Metric {
	return Metric{
		name: name,
		call: func(out, _, _ any) (any, error) { return fn(out) },
		fnID: reflect.ValueOf(fn).Pointer(),
	}
}

// MetricFunc2 wraps a binary scoring function.
func MetricFunc2(name string, fn BinaryMetric) Metric {
	return Metric{
		name: name,
		call: func(out, exp, _ any) (any, error) { return fn(out, exp) },
		fnID: reflect.ValueOf(fn).Pointer(),
	}
}

// MetricFunc3 wraps a ternary scoring function.
func MetricFunc3(name string, fn TernaryMetric) Metric {
	return Metric{
		name: name,
		call: func(out, exp, in any) (any, error) { return fn(out, exp, in) },
		fnID: reflect.ValueOf(fn).Pointer(),
	}
}

// NewMetric accepts any of the three metric shapes (typed or untyped) and
// binds it under name. Unknown shapes are a registration error.
func NewMetric(name string, fn any) (Metric, error) {
	if name == "" {
		return Metric{}, fmt.Errorf("metric name is required")
	}
	switch f := fn.(type) {
	case UnaryMetric:
		return MetricFunc(name, f), nil
	case func(any) (any, error):
		return MetricFunc(name, f), nil
	case BinaryMetric:
		return MetricFunc2(name, f), nil
	case func(any, any) (any, error):
		return MetricFunc2(name, f), nil
	case TernaryMetric:
		return MetricFunc3(name, f), nil
	case func(any, any, any) (any, error):
		return MetricFunc3(name, f), nil
	default:
		return Metric{}, fmt.Errorf("unsupported metric type %T for %q", fn, name)
	}
}

// Name returns the metric's registered name.
func (m Metric) Name() string { return m.name }

// MetricResult is a normalized score record. A nil Score with no Metadata
// error means the metric declined to score the item.
type MetricResult struct {
	Score    *float64       `json:"score"`
	Raw      any            `json:"raw,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Errored reports whether the result came from a metric failure.
func (r *MetricResult) Errored() bool {
	if r.Metadata == nil {
		return false
	}
	_, ok := r.Metadata["error"]
	return ok
}

// evaluate runs the metric and normalizes its return. It never panics and
// never returns an error: failures become a zero score with the message in
// metadata so erroring items degrade aggregates visibly.
func (m Metric) evaluate(output, expected, input any) (res MetricResult) {
	defer func() {
		if r := recover(); r != nil {
			res = errorResult(fmt.Sprintf("panic: %v", r))
		}
	}()

	v, err := m.call(output, expected, input)
	if err != nil {
		return errorResult(err.Error())
	}
	return normalizeScore(v)
}

func errorResult(msg string) MetricResult {
	zero := 0.0
	return MetricResult{Score: &zero, Metadata: map[string]any{"error": msg}}
}

// normalizeScore maps the metric's return onto the score record shape:
// numbers pass through, bools map to 1/0, nil means unscored, MetricResult
// and map returns pass through, anything else is kept as the raw score.
func normalizeScore(v any) MetricResult {
	switch s := v.(type) {
	case nil:
		return MetricResult{}
	case MetricResult:
		return s
	case *MetricResult:
		if s == nil {
			return MetricResult{}
		}
		return *s
	case bool:
		f := 0.0
		if s {
			f = 1.0
		}
		return MetricResult{Score: &f}
	case float64:
		return MetricResult{Score: &s}
	case float32:
		f := float64(s)
		return MetricResult{Score: &f}
	case int:
		f := float64(s)
		return MetricResult{Score: &f}
	case int64:
		f := float64(s)
		return MetricResult{Score: &f}
	case map[string]any:
		res := MetricResult{Raw: s}
		if sc, ok := s["score"]; ok {
			if f, ok := toFloat(sc); ok {
				res.Score = &f
			}
		}
		if meta, ok := s["metadata"].(map[string]any); ok {
			res.Metadata = meta
		}
		return res
	default:
		return MetricResult{Raw: s}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
