package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestClassifyPassthrough(t *testing.T) {
	orig := New(CodeRateLimit, true, "busy")
	wrapped := fmt.Errorf("step failed: %w", orig)

	got := Classify(wrapped)
	if got != orig {
		t.Fatalf("expected the wrapped *Error back, got %+v", got)
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// A message matching several classes must land on the highest
	// priority one.
	got := Classify(errors.New("schema validation failed after 429 rate limit"))
	if got.Code != CodeSchemaValidation {
		t.Fatalf("expected SCHEMA_VALIDATION, got %s", got.Code)
	}
	if !got.Retryable {
		t.Fatalf("schema failures are retryable")
	}

	got = Classify(errors.New("429 rate limit from unauthorized endpoint"))
	if got.Code != CodeRateLimit {
		t.Fatalf("expected RATE_LIMIT to outrank API_KEY, got %s", got.Code)
	}
}

func TestClassifyByMarker(t *testing.T) {
	cases := []struct {
		msg       string
		code      Code
		retryable bool
	}{
		{"failed to parse model JSON: unexpected end", CodeSchemaValidation, true},
		{"no output_text found in response", CodeSchemaValidation, true},
		{"openai http 429: slow down", CodeRateLimit, true},
		{"quota exceeded for project", CodeRateLimit, true},
		{"missing openai api key", CodeAPIKey, false},
		{"openai http 401: unauthorized", CodeAPIKey, false},
		{"dial tcp: i/o timeout", CodeNetwork, true},
		{"connect ETIMEDOUT 10.0.0.1", CodeNetwork, true},
		{"something exploded", CodeUnknown, false},
	}
	for _, tc := range cases {
		got := Classify(errors.New(tc.msg))
		if got.Code != tc.code {
			t.Errorf("%q: expected %s, got %s", tc.msg, tc.code, got.Code)
		}
		if got.Retryable != tc.retryable {
			t.Errorf("%q: expected retryable=%v", tc.msg, tc.retryable)
		}
	}
}

func TestClassifyMessageIsUserSafe(t *testing.T) {
	raw := errors.New("openai http 401: unauthorized; api key sk-abc123")
	got := Classify(raw)
	if got.Message == "" || got.Message == raw.Error() {
		t.Fatalf("classified message must be user-safe, got %q", got.Message)
	}
	if !errors.Is(got, raw) {
		t.Fatalf("original error must stay in the chain")
	}
}
