package failure

import (
	"errors"
	"strings"
)

// Code is the machine-readable class of a generation failure. It is
// persisted on the job record together with the retryable flag.
type Code string

const (
	CodeSchemaValidation Code = "SCHEMA_VALIDATION"
	CodeRateLimit        Code = "RATE_LIMIT"
	CodeAPIKey           Code = "API_KEY"
	CodeNetwork          Code = "NETWORK"
	CodeUnknown          Code = "UNKNOWN"
)

// Error is the tagged failure value the pipeline records on a job:
// a code, a retry advisory, and a user-safe message. Raw provider
// errors stay server-side; only this triple reaches the caller.
type Error struct {
	Code      Code
	Retryable bool
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a domain failure with an already-decided classification.
// Used for in-pipeline validation failures (no surviving concepts or
// phrasings); these bypass pattern classification entirely.
func New(code Code, retryable bool, message string) *Error {
	return &Error{Code: code, Retryable: retryable, Message: message}
}

// Classify maps an arbitrary error to a failure value. A *failure.Error
// anywhere in the chain wins as-is; otherwise the lower-cased message is
// matched against marker substrings in fixed priority order.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "schema", "validation", "did not match", "failed to parse model json", "no output_text"):
		return &Error{
			Code:      CodeSchemaValidation,
			Retryable: true,
			Message:   "The model returned an unexpected response format. Please try again.",
			Err:       err,
		}
	case containsAny(msg, "rate limit", "429", "quota"):
		return &Error{
			Code:      CodeRateLimit,
			Retryable: true,
			Message:   "The AI service is busy right now. Please try again in a moment.",
			Err:       err,
		}
	case containsAny(msg, "api key", "401", "unauthorized"):
		return &Error{
			Code:      CodeAPIKey,
			Retryable: false,
			Message:   "The AI service is not configured correctly. Please contact support.",
			Err:       err,
		}
	case containsAny(msg, "network", "timeout", "etimedout"):
		return &Error{
			Code:      CodeNetwork,
			Retryable: true,
			Message:   "A network error interrupted generation. Please try again.",
			Err:       err,
		}
	default:
		return &Error{
			Code:      CodeUnknown,
			Retryable: false,
			Message:   "Something went wrong during generation.",
			Err:       err,
		}
	}
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
