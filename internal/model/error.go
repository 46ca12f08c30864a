package model

// AppError is the error payload shared by every stage of the pipeline.
// Code and Stage are stable machine-readable identifiers; Message is
// what the user sees.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage"`

	URL     string `json:"url,omitempty"`
	Line    int    `json:"line,omitempty"`    // 1-based; 0 means "not set"
	Snippet string `json:"snippet,omitempty"` // kept short, <= 200 chars
	Hint    string `json:"hint,omitempty"`
}
