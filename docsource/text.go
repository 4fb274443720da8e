package docsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// TextReader handles plain text, markdown and CSV files.
type TextReader struct{}

func (r *TextReader) Formats() []string { return []string{"txt", "md", "csv", "text"} }

func (r *TextReader) Read(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	if !utf8.Valid(data) {
		return "", errors.New("text file is not valid UTF-8")
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	return strings.ReplaceAll(text, "\r\n", "\n"), nil
}
