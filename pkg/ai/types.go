package ai

import "context"

// ExplanationInput describes a failed learner query.
type ExplanationInput struct {
	ProblemTitle string
	Query        string
	Dialect      string
	ErrorMessage string
	ErrorCode    string
	Tables       map[string][]string
}

// Explanation is a short natural-language account of what went wrong.
type Explanation struct {
	Summary string `json:"summary"`
	Fix     string `json:"fix"`
}

// Explainer describes a model able to explain SQL errors.
type Explainer interface {
	Explain(ctx context.Context, input ExplanationInput) (Explanation, error)
}
