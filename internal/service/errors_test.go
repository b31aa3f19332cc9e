package service

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "field and message",
			err: &ValidationError{
				Field:   "query",
				Message: "cannot be empty",
			},
			want: "validation error on field query: cannot be empty",
		},
		{
			name: "empty field",
			err: &ValidationError{
				Field:   "",
				Message: "invalid",
			},
			want: "validation error on field : invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("ValidationError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		msg     string
		wantNil bool
		wantMsg string
	}{
		{
			name:    "nil error",
			err:     nil,
			msg:     "context",
			wantNil: true,
		},
		{
			name:    "wrapped error",
			err:     errors.New("original error"),
			msg:     "context",
			wantNil: false,
			wantMsg: "context: original error",
		},
		{
			name:    "empty message",
			err:     errors.New("original error"),
			msg:     "",
			wantNil: false,
			wantMsg: ": original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapError(tt.err, tt.msg)
			if tt.wantNil {
				if got != nil {
					t.Errorf("WrapError() = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Errorf("WrapError() = nil, want error")
				return
			}
			if got.Error() != tt.wantMsg {
				t.Errorf("WrapError() = %v, want %v", got.Error(), tt.wantMsg)
			}
			// Verify error wrapping
			if !errors.Is(got, tt.err) {
				t.Errorf("WrapError() should wrap original error")
			}
		})
	}
}

func TestValidationError_MatchesErrInvalidInput(t *testing.T) {
	err := fmt.Errorf("recommend: %w", &ValidationError{Field: "query", Message: "must not be empty"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("ValidationError should not match ErrTimeout")
	}
}

func TestSearchError(t *testing.T) {
	cause := errors.New("provider down")
	err := error(&SearchError{SearchID: "s-1", Kind: KindEmbedding, Err: cause})

	if got, want := err.Error(), "search s-1 failed (embedding): provider down"; got != want {
		t.Errorf("SearchError.Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("SearchError should unwrap to its cause")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("embedding SearchError should not match ErrTimeout")
	}
	if !errors.Is(&SearchError{Kind: KindTimeout, Err: cause}, ErrTimeout) {
		t.Error("timeout SearchError should match ErrTimeout")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "search error", err: &SearchError{Kind: KindStorage}, want: KindStorage},
		{name: "wrapped search error", err: fmt.Errorf("x: %w", &SearchError{Kind: KindDimension}), want: KindDimension},
		{name: "plain error", err: errors.New("boom"), want: KindInternal},
		{name: "nil", err: nil, want: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&PersistenceError{CaseID: "c1", Op: "upsert", Err: cause})

	if got, want := err.Error(), "persistence error on case c1 during upsert: disk full"; got != want {
		t.Errorf("PersistenceError.Error() = %q, want %q", got, want)
	}
	var pe *PersistenceError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &pe) || pe.CaseID != "c1" {
		t.Error("PersistenceError should be reachable with errors.As")
	}
	if !errors.Is(err, cause) {
		t.Error("PersistenceError should unwrap to its cause")
	}
}
