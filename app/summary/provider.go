package summary

import (
	"context"
)

type Request struct {
	EntryID int64
	URL     string
	Title   string
	Content string // sanitized entry HTML
}

// Provider produces a summary for an entry. Implementations return a
// TransientError for failures that may succeed later; any other error fails
// the record permanently.
type Provider interface {
	Name() string
	Summarize(ctx context.Context, req Request) (string, error)
}
