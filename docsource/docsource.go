// Package docsource turns stored documents into the plain text the
// extraction pipeline consumes.
package docsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when no reader handles a document's
	// extension.
	ErrUnsupportedFormat = errors.New("docsource: unsupported format")
	// ErrInvalidID is returned for document ids that escape the source root.
	ErrInvalidID = errors.New("docsource: invalid document id")
)

// Source resolves a document id to its text.
type Source interface {
	Text(ctx context.Context, documentID string) (string, error)
}

// Reader extracts text from one family of file formats.
type Reader interface {
	Read(ctx context.Context, path string) (string, error)
	Formats() []string
}

// Registry maps lower-case file extensions, without the dot, to readers.
// A Registry is itself a Source whose document ids are file paths.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry returns a registry with the built-in text, PDF, XLSX, DOCX
// and PPTX readers.
func NewRegistry() *Registry {
	r := &Registry{readers: make(map[string]Reader)}
	for _, rd := range []Reader{&TextReader{}, &PDFReader{}, &XLSXReader{}, &DOCXReader{}, &PPTXReader{}} {
		for _, f := range rd.Formats() {
			r.readers[f] = rd
		}
	}
	return r
}

// Register installs rd for format, replacing any existing reader.
func (r *Registry) Register(format string, rd Reader) {
	r.readers[strings.ToLower(strings.TrimPrefix(format, "."))] = rd
}

// Get returns the reader for format.
func (r *Registry) Get(format string) (Reader, error) {
	rd, ok := r.readers[strings.ToLower(strings.TrimPrefix(format, "."))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return rd, nil
}

// Formats lists the registered extensions in sorted order.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.readers))
	for f := range r.readers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Text reads the file at path with the reader registered for its extension.
func (r *Registry) Text(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rd, err := r.Get(filepath.Ext(path))
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("docsource: %w", err)
	}
	text, err := rd.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("docsource: reading %s: %w", filepath.Base(path), err)
	}
	return text, nil
}

// Dir serves documents stored under a root directory. Document ids are
// slash-separated paths relative to the root.
type Dir struct {
	root string
	reg  *Registry
}

// NewDir returns a Source rooted at root. A nil reg uses NewRegistry.
func NewDir(root string, reg *Registry) *Dir {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Dir{root: root, reg: reg}
}

// Text implements Source.
func (d *Dir) Text(ctx context.Context, documentID string) (string, error) {
	rel := filepath.FromSlash(documentID)
	if documentID == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, documentID)
	}
	return d.reg.Text(ctx, filepath.Join(d.root, rel))
}
