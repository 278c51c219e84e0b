package errors

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeInvalidVersion, "invalid version: %s", "1.x")

	if err.Code != ErrCodeInvalidVersion {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidVersion)
	}

	if err.Message != "invalid version: 1.x" {
		t.Errorf("Message = %v, want %v", err.Message, "invalid version: 1.x")
	}

	expected := "INVALID_VERSION: invalid version: 1.x"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeNetwork, cause, "GET http://feed.example")

	if err.Code != ErrCodeNetwork {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeNetwork)
	}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
}

func TestContextKeepsCode(t *testing.T) {
	inner := New(ErrCodePackageNotFound, "no versions of package utils found")
	err := Context(inner, "in dependency of tools:1.0.0")

	if err.Code != ErrCodePackageNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodePackageNotFound)
	}
	if !Is(err, ErrCodePackageNotFound) {
		t.Error("Is(err, PACKAGE_NOT_FOUND) = false, want true")
	}

	want := "in dependency of tools:1.0.0: no versions of package utils found"
	if got := UserMessage(err); got != want {
		t.Errorf("UserMessage() = %q, want %q", got, want)
	}
}

func TestContextPlainError(t *testing.T) {
	err := Context(errors.New("boom"), "while resolving")
	if err.Code != ErrCodeInternal {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInternal)
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		expected bool
	}{
		{
			name:     "matching code",
			err:      New(ErrCodeRegistryLocked, "registry is locked"),
			code:     ErrCodeRegistryLocked,
			expected: true,
		},
		{
			name:     "non-matching code",
			err:      New(ErrCodeRegistryLocked, "registry is locked"),
			code:     ErrCodeNetwork,
			expected: false,
		},
		{
			name:     "wrapped error",
			err:      Wrap(ErrCodeNetwork, New(ErrCodeInvalidVersion, "inner"), "outer"),
			code:     ErrCodeNetwork,
			expected: true,
		},
		{
			name:     "non-Error type",
			err:      errors.New("plain error"),
			code:     ErrCodeNetwork,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			code:     ErrCodeNetwork,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}
