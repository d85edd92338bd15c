// Package pdf extracts page text from PDF files.
package pdf

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"
	"kbagent/internal/domain"
)

// Extractor reads PDFs with github.com/ledongthuc/pdf.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractPages returns the plain text of each page in page order. Pages
// without a content stream yield an empty string so indexes stay aligned.
func (e *Extractor) ExtractPages(ctx context.Context, path string) (pages []string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %s: malformed pdf: %v", domain.ErrExtraction, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrExtraction, path, err)
	}
	defer f.Close()

	n := r.NumPage()
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: page %d: %v", domain.ErrExtraction, path, i, err)
		}
		pages = append(pages, text)
	}

	return pages, nil
}
