package errors

import (
	"strings"
	"testing"
)

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid value", NewInvalidValue("buffer_length", 0, "must be greater than 0"), true},
		{"missing field", NewMissingField("name"), true},
		{"unknown strategy", Wrapf(ErrUnknownStrategy, "strategy %q", "x"), true},
		{"unknown kind", Wrap(ErrUnknownKind, "meter"), true},
		{"not found", NewNotFound("meter", "a"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsOutOfRange(t *testing.T) {
	if !IsOutOfRange(Wrap(ErrValueOutOfRange, "bucket 2")) {
		t.Error("expected wrapped range error to match")
	}
	if IsOutOfRange(ErrInvalidConfig) {
		t.Error("config error must not match")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "context %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}

func TestConstructorMessages(t *testing.T) {
	err := NewInvalidValue("percentile", 1.5, "must be between 0.0 and 1.0")
	if got := err.Error(); got != "invalid percentile '1.5': must be between 0.0 and 1.0: invalid configuration" {
		t.Errorf("unexpected message: %q", got)
	}

	err = NewAlreadyExists("timer", "db.query")
	if !Is(err, ErrAlreadyExists) || !strings.Contains(err.Error(), "timer 'db.query'") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.HasErrors() || v.Err() != nil {
		t.Fatal("empty collector should report no errors")
	}

	v.Add(nil)
	v.AddField("expiry", "must be positive")
	if got := v.Error(); !strings.Contains(got, "expiry") || strings.Contains(got, "validation failed") {
		t.Errorf("single error should be returned as is: %q", got)
	}

	v.AddMissing("name")
	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "validation failed with 2 errors:") {
		t.Errorf("unexpected message: %q", err)
	}
	if !Is(err, ErrMissingField) || !Is(err, ErrInvalidConfig) {
		t.Error("collected errors should match both sentinels")
	}
}
