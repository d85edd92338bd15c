package port

import "context"

// Extractor pulls text out of a document, one string per page in page order.
type Extractor interface {
	ExtractPages(ctx context.Context, path string) ([]string, error)
}
