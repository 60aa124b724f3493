package analysis

import (
	"context"
	"fmt"
	"sync"
)

// MockAnalyzer is a local fallback used when no inference endpoint is
// configured. It returns canned feedback and never fails.
type MockAnalyzer struct {
	mu    sync.Mutex
	calls int
}

func NewMockAnalyzer() *MockAnalyzer { return &MockAnalyzer{} }

func (a *MockAnalyzer) Analyze(_ context.Context, req Request) (Result, error) {
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()

	feedback := TruncateWords(fmt.Sprintf("Simulated feedback %d: keep your form steady", n), req.Constraints.MaxWords)
	return Result{Feedback: feedback, Classification: ClassificationMatch}, nil
}
