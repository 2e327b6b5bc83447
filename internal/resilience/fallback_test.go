package resilience

import (
	"errors"
	"testing"
	"time"
)

// newStringGroup builds a two-entry group over provider labels, recording
// which label the executed func ultimately ran against.
func newStringGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures},
	})
	fg.AddFallback("backup", "backup")
	return fg
}

func TestFallbackGroup_UsesPrimaryFirst(t *testing.T) {
	fg := newStringGroup(3)

	var ran string
	if err := fg.Execute(func(v string) error { ran = v; return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ran != "primary" {
		t.Fatalf("ran = %q, want primary", ran)
	}
}

func TestFallbackGroup_FailsOverInOrder(t *testing.T) {
	fg := newStringGroup(3)

	var ran []string
	err := fg.Execute(func(v string) error {
		ran = append(ran, v)
		if v == "primary" {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 2 || ran[0] != "primary" || ran[1] != "backup" {
		t.Fatalf("ran = %v, want [primary backup]", ran)
	}
}

func TestFallbackGroup_AllEntriesFail(t *testing.T) {
	fg := newStringGroup(3)

	err := fg.Execute(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsEntry(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("backup", "backup")

	// Open the primary's breaker with two failing rounds.
	for i := 0; i < 2; i++ {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errBackend
			}
			return nil
		})
	}

	// The primary must now be skipped entirely, not just failed over.
	var ran []string
	if err := fg.Execute(func(v string) error { ran = append(ran, v); return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 1 || ran[0] != "backup" {
		t.Fatalf("ran = %v, want [backup] only", ran)
	}
}

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name        string
		primaryErr  error
		backupErr   error
		wantResult  string
		wantAllFail bool
	}{
		{name: "primary answers", wantResult: "from-primary"},
		{name: "failover answers", primaryErr: errBackend, wantResult: "from-backup"},
		{name: "everything down", primaryErr: errBackend, backupErr: errBackend, wantAllFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newStringGroup(3)
			result, err := ExecuteWithResult(fg, func(v string) (string, error) {
				if v == "primary" {
					if tt.primaryErr != nil {
						return "", tt.primaryErr
					}
					return "from-primary", nil
				}
				if tt.backupErr != nil {
					return "", tt.backupErr
				}
				return "from-backup", nil
			})

			if tt.wantAllFail {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExecuteWithResult: %v", err)
			}
			if result != tt.wantResult {
				t.Fatalf("result = %q, want %q", result, tt.wantResult)
			}
		})
	}
}
