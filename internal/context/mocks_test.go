package context

import "context"

// MockSummarizer implements Summarizer for testing.
type MockSummarizer struct {
	SummarizeFunc func(ctx context.Context, transcript string) (string, error)
	Calls         int
}

func (m *MockSummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	m.Calls++
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, transcript)
	}
	return "Mock summary", nil
}

// testBudgeterConfig returns a small config for predictable testing.
func testBudgeterConfig() BudgeterConfig {
	return BudgeterConfig{
		MaxContextTokens:      4000,
		KeepRecentMessages:    4,
		KeepRecentToolResults: 2,
		MaxToolResultSize:     100,
		MaxTranscriptSize:     8000,
	}
}
