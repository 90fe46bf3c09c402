package engine

import (
	"errors"
	"strings"
	"testing"
)

func scoreOf(t *testing.T, res MetricResult) float64 {
	t.Helper()
	if res.Score == nil {
		t.Fatal("score is nil")
	}
	return *res.Score
}

func TestNewMetric_Shapes(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		ok   bool
	}{
		{"unary typed", UnaryMetric(func(out any) (any, error) { return 1.0, nil }), true},
		{"unary untyped", func(out any) (any, error) { return 1.0, nil }, true},
		{"binary typed", BinaryMetric(func(out, exp any) (any, error) { return 1.0, nil }), true},
		{"binary untyped", func(out, exp any) (any, error) { return 1.0, nil }, true},
		{"ternary typed", TernaryMetric(func(out, exp, in any) (any, error) { return 1.0, nil }), true},
		{"ternary untyped", func(out, exp, in any) (any, error) { return 1.0, nil }, true},
		{"wrong shape", func(out string) float64 { return 0 }, false},
		{"not a function", 42, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMetric("m", tt.fn)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected registration error")
			}
		})
	}
}

func TestNewMetric_RequiresName(t *testing.T) {
	if _, err := NewMetric("", func(out any) (any, error) { return 1.0, nil }); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestMetric_ArityWiring(t *testing.T) {
	m3 := MetricFunc3("wiring", func(out, exp, in any) (any, error) {
		if out != "o" || exp != "e" || in != "i" {
			return nil, errors.New("arguments scrambled")
		}
		return 1.0, nil
	})
	res := m3.evaluate("o", "e", "i")
	if res.Errored() {
		t.Fatalf("ternary metric got wrong arguments: %v", res.Metadata)
	}

	m2 := MetricFunc2("wiring2", func(out, exp any) (any, error) {
		if out != "o" || exp != "e" {
			return nil, errors.New("arguments scrambled")
		}
		return 1.0, nil
	})
	if res := m2.evaluate("o", "e", "i"); res.Errored() {
		t.Fatalf("binary metric got wrong arguments: %v", res.Metadata)
	}
}

func TestNormalizeScore(t *testing.T) {
	half := 0.5
	tests := []struct {
		name      string
		in        any
		wantScore *float64
		wantRaw   bool
	}{
		{"nil declines", nil, nil, false},
		{"bool true", true, ptr(1.0), false},
		{"bool false", false, ptr(0.0), false},
		{"float64", 0.5, &half, false},
		{"float32", float32(0.5), &half, false},
		{"int", 1, ptr(1.0), false},
		{"int64", int64(2), ptr(2.0), false},
		{"string is raw", "good", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := normalizeScore(tt.in)
			switch {
			case tt.wantScore == nil && res.Score != nil:
				t.Errorf("score = %v, want nil", *res.Score)
			case tt.wantScore != nil && (res.Score == nil || *res.Score != *tt.wantScore):
				t.Errorf("score = %v, want %v", res.Score, *tt.wantScore)
			}
			if tt.wantRaw && res.Raw == nil {
				t.Error("raw value dropped")
			}
		})
	}
}

func TestNormalizeScore_MetricResultPassThrough(t *testing.T) {
	in := MetricResult{Score: ptr(0.9), Metadata: map[string]any{"k": "v"}}
	if got := normalizeScore(in); got.Score == nil || *got.Score != 0.9 || got.Metadata["k"] != "v" {
		t.Errorf("value pass-through mangled: %+v", got)
	}
	if got := normalizeScore(&in); got.Score == nil || *got.Score != 0.9 {
		t.Errorf("pointer pass-through mangled: %+v", got)
	}
	if got := normalizeScore((*MetricResult)(nil)); got.Score != nil {
		t.Errorf("nil pointer should decline, got %+v", got)
	}
}

func TestNormalizeScore_MapExtraction(t *testing.T) {
	res := normalizeScore(map[string]any{
		"score":    0.75,
		"metadata": map[string]any{"reason": "close enough"},
		"verdict":  "pass",
	})
	if res.Score == nil || *res.Score != 0.75 {
		t.Fatalf("score = %v, want 0.75", res.Score)
	}
	if res.Metadata["reason"] != "close enough" {
		t.Errorf("metadata not extracted: %+v", res.Metadata)
	}
	if res.Raw == nil {
		t.Error("raw map dropped")
	}
}

func TestEvaluate_ErrorBecomesZeroScore(t *testing.T) {
	m := MetricFunc("failing", func(out any) (any, error) {
		return nil, errors.New("judge unavailable")
	})
	res := m.evaluate("x", nil, nil)
	if res.Score == nil || *res.Score != 0 {
		t.Fatalf("score = %v, want 0", res.Score)
	}
	if !res.Errored() {
		t.Fatal("Errored() = false for a failed metric")
	}
	if msg, _ := res.Metadata["error"].(string); msg != "judge unavailable" {
		t.Errorf("metadata error = %q", msg)
	}
}

func TestEvaluate_PanicRecovered(t *testing.T) {
	m := MetricFunc("panicking", func(out any) (any, error) {
		panic("bad index")
	})
	res := m.evaluate("x", nil, nil)
	if res.Score == nil || *res.Score != 0 {
		t.Fatalf("score = %v, want 0", res.Score)
	}
	msg, _ := res.Metadata["error"].(string)
	if !strings.Contains(msg, "panic") || !strings.Contains(msg, "bad index") {
		t.Errorf("metadata error = %q, want panic message", msg)
	}
}

func ptr(f float64) *float64 { return &f }
