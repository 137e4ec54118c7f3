package document

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFExtractor_RejectsInvalidInput(t *testing.T) {
	e := NewPDFExtractor()
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"plain text", []byte("hello")},
		{"truncated pdf", []byte("%PDF-1.4\n1 0 obj\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, pages, err := e.Extract(ctx, tt.data)
			require.Error(t, err)
			assert.Empty(t, text)
			assert.Zero(t, pages)
		})
	}
}

func TestPDFExtractor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewPDFExtractor().Extract(ctx, []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, context.Canceled)
}
