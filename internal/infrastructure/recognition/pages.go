package recognition

import (
	"fmt"

	"github.com/ledongthuc/pdf"
)

// CountPages reads the page tree of a PDF.
func CountPages(path string) (count int, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf %s: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	count = reader.NumPage()
	if count <= 0 {
		return 0, fmt.Errorf("pdf %s has no pages", path)
	}
	return count, nil
}
