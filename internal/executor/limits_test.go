package executor

import (
	"errors"
	"testing"
)

func TestLimitsFromOptions(t *testing.T) {
	defaults := DefaultPipelineLimits()

	tests := []struct {
		name    string
		options map[string]any
		want    Limits
	}{
		{
			name:    "no limits key keeps defaults",
			options: map[string]any{},
			want:    defaults,
		},
		{
			name: "overrides apply",
			options: map[string]any{"limits": map[string]any{
				"max_steps":    float64(4),
				"max_subcalls": float64(2),
			}},
			want: func() Limits {
				l := defaults
				l.MaxSteps = 4
				l.MaxSubcalls = 2
				return l
			}(),
		},
		{
			name: "non-positive and non-numeric keep defaults",
			options: map[string]any{"limits": map[string]any{
				"max_steps": float64(0),
				"max_depth": "four",
			}},
			want: defaults,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LimitsFromOptions(tt.options, defaults); got != tt.want {
				t.Errorf("LimitsFromOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractProgram(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		wantSteps int
		wantErr   bool
	}{
		{name: "nil is empty", raw: nil, wantSteps: 0},
		{name: "empty string is empty", raw: "", wantSteps: 0},
		{
			name:      "step list",
			raw:       []any{map[string]any{"action": "noop"}, map[string]any{"action": "noop"}},
			wantSteps: 2,
		},
		{
			name:      "object with steps",
			raw:       map[string]any{"steps": []any{map[string]any{"action": "noop"}}},
			wantSteps: 1,
		},
		{
			name:      "nested program object",
			raw:       map[string]any{"program": map[string]any{"steps": []any{map[string]any{"action": "noop"}}}},
			wantSteps: 1,
		},
		{
			name:      "single step object",
			raw:       map[string]any{"action": "select", "selected_ids": []any{"a"}},
			wantSteps: 1,
		},
		{
			name:      "json string",
			raw:       `{"steps":[{"action":"noop"},{"action":"noop"}]}`,
			wantSteps: 2,
		},
		{
			name:      "non-map list items are dropped",
			raw:       []any{map[string]any{"action": "noop"}, "junk", float64(3)},
			wantSteps: 1,
		},
		{name: "invalid json string", raw: "{not json", wantErr: true},
		{name: "unsupported type", raw: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := ExtractProgram(tt.raw)
			if tt.wantErr {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("err = %v, want ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractProgram: %v", err)
			}
			if len(steps) != tt.wantSteps {
				t.Errorf("steps = %d, want %d", len(steps), tt.wantSteps)
			}
		})
	}
}

func TestEstimateProgramChars(t *testing.T) {
	if got := EstimateProgramChars(nil); got != 0 {
		t.Errorf("nil = %d", got)
	}
	if got := EstimateProgramChars("abcd"); got != 4 {
		t.Errorf("string = %d", got)
	}
	obj := map[string]any{"steps": []any{}}
	if got := EstimateProgramChars(obj); got != len(`{"steps":[]}`) {
		t.Errorf("object = %d", got)
	}
}

func TestCheckLimits(t *testing.T) {
	limits := DefaultPipelineLimits()
	limits.MaxSteps = 3
	limits.MaxSubcalls = 2
	limits.MaxDepth = 2

	noop := func() map[string]any { return map[string]any{"action": "noop"} }
	withSubs := func(subs ...any) map[string]any {
		return map[string]any{"action": "noop", "subcalls": subs}
	}

	tests := []struct {
		name      string
		steps     []map[string]any
		wantLimit string
		wantParse bool
	}{
		{name: "within bounds", steps: []map[string]any{noop(), withSubs(noop())}},
		{
			name:      "too many steps",
			steps:     []map[string]any{noop(), noop(), noop(), noop()},
			wantLimit: "max_steps",
		},
		{
			name:      "nested steps count toward step budget",
			steps:     []map[string]any{withSubs(noop(), noop()), noop(), noop()},
			wantLimit: "max_steps",
		},
		{
			name:      "too many subcalls",
			steps:     []map[string]any{withSubs(noop(), noop(), noop())},
			wantLimit: "max_subcalls",
		},
		{
			name:      "too deep",
			steps:     []map[string]any{withSubs(withSubs(noop()))},
			wantLimit: "max_depth",
		},
		{
			name:      "subcalls must be a list",
			steps:     []map[string]any{{"action": "noop", "subcalls": "bad"}},
			wantParse: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckLimits(tt.steps, limits)
			switch {
			case tt.wantParse:
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("err = %v, want ParseError", err)
				}
			case tt.wantLimit != "":
				var breach *LimitError
				if !errors.As(err, &breach) {
					t.Fatalf("err = %v, want LimitError", err)
				}
				if breach.Limit != tt.wantLimit {
					t.Errorf("limit = %q, want %q", breach.Limit, tt.wantLimit)
				}
			default:
				if err != nil {
					t.Fatalf("CheckLimits: %v", err)
				}
			}
		})
	}
}
