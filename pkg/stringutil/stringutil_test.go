package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEllipsis(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short reason kept", "page 12: ocr skipped", 64, "page 12: ocr skipped"},
		{"long tool error truncated", "ghostscript: unrecoverable error: rangecheck in .putdeviceprops", 40, "ghostscript: unrecoverable error: ran..."},
		{"multiline stderr collapsed", "convert: no decode delegate\nfor this image format", 30, "convert: no decode delegate..."},
		{"crlf output collapsed", "step failed\r\nretrying", 15, "step failed ..."},
		{"padding trimmed", "  deskew timed out  ", 64, "deskew timed out"},
		{"exact fit untouched", "pdf damaged", 11, "pdf damaged"},
		{"budget too small for ellipsis", "tesseract", 3, "tes"},
		{"zero budget", "tesseract", 0, ""},
		{"negative budget", "tesseract", -1, ""},
		{"empty reason", "", 10, ""},
		{"whitespace only reason", " \r\n ", 10, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Ellipsis(tt.in, tt.max))
		})
	}
}
