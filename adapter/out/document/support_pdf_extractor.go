// Package document extracts text from uploaded files.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"support_server/core/port/out"
)

// ErrNotPDF is returned for input without a PDF header.
var ErrNotPDF = errors.New("not a PDF document")

// PDFExtractor reads plain text from PDF bytes.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract returns the text of all pages in reading order and the page count.
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (text string, pages int, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		return "", 0, ErrNotPDF
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, pages, err = "", 0, fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("read PDF text: %w", err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", 0, fmt.Errorf("read PDF text: %w", err)
	}
	return buf.String(), reader.NumPage(), nil
}

var _ out.PDFExtractor = (*PDFExtractor)(nil)
