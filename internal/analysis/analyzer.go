package analysis

import (
	"context"
	"errors"
)

// Classification is the domain-level outcome of one analysis call.
// Wrong-activity and no-activity are normal results, not failures.
type Classification string

const (
	ClassificationMatch         Classification = "match"
	ClassificationWrongActivity Classification = "wrong_activity"
	ClassificationNoActivity    Classification = "no_activity"
)

// Constraints bound the response the adapter is allowed to return.
type Constraints struct {
	MaxWords int
	Language string
	FPS      float64
}

// Request carries one media segment plus its rendered prompt.
type Request struct {
	Media       []byte
	MimeType    string
	Prompt      string
	Constraints Constraints
}

// Result is validated, truncated coaching feedback.
type Result struct {
	Feedback       string
	Classification Classification
}

// Error is a typed analysis failure. Transient failures are eligible
// for retry; permanent ones are surfaced immediately.
type Error struct {
	Code      string
	Detail    string
	Transient bool
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "analysis failed: " + e.Code
	}
	return "analysis failed: " + e.Code + ": " + e.Detail
}

// IsTransient reports whether err is a retriable analysis failure.
// Unknown error types are treated as transient so a flaky transport
// never short-circuits the retry policy.
func IsTransient(err error) bool {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Transient
	}
	// Timeouts and transport hiccups arrive as plain errors.
	return true
}

// Analyzer wraps the external vision-language inference capability.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Result, error)
}
