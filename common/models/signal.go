package models

// SignalMatch is a single rule hit produced by the signal evaluator. Subject
// identifies the target (e.g. "pr:123"); Context feeds policy evaluation and
// CEL rule filters.
type SignalMatch struct {
	Subject string                 `json:"subject"`
	Context map[string]interface{} `json:"context"`
}
