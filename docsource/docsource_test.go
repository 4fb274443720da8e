package docsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegistryBuiltInReaders(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		format string
		want   string
	}{
		{"txt", "*docsource.TextReader"},
		{"md", "*docsource.TextReader"},
		{".PDF", "*docsource.PDFReader"},
		{"xlsx", "*docsource.XLSXReader"},
		{"docx", "*docsource.DOCXReader"},
		{"PPTX", "*docsource.PPTXReader"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			rd, err := reg.Get(tt.format)
			if err != nil {
				t.Fatalf("Get(%q): %v", tt.format, err)
			}
			if got := typeName(rd); got != tt.want {
				t.Errorf("Get(%q) = %s, want %s", tt.format, got, tt.want)
			}
		})
	}
}

func typeName(rd Reader) string {
	switch rd.(type) {
	case *TextReader:
		return "*docsource.TextReader"
	case *PDFReader:
		return "*docsource.PDFReader"
	case *XLSXReader:
		return "*docsource.XLSXReader"
	case *DOCXReader:
		return "*docsource.DOCXReader"
	case *PPTXReader:
		return "*docsource.PPTXReader"
	default:
		return "other"
	}
}

func TestRegistryUnsupported(t *testing.T) {
	reg := NewRegistry()
	for _, f := range []string{"odt", "html", ""} {
		if _, err := reg.Get(f); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Get(%q) error = %v, want ErrUnsupportedFormat", f, err)
		}
	}

	path := writeFile(t, t.TempDir(), "deck.odp", "x")
	if _, err := reg.Text(context.Background(), path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Text error = %v", err)
	}
}

func TestRegistryCustomReader(t *testing.T) {
	reg := NewRegistry()
	reg.Register(".LOG", &TextReader{})
	if _, err := reg.Get("log"); err != nil {
		t.Fatalf("custom reader not found: %v", err)
	}
	if got := reg.Formats(); !strings.Contains(strings.Join(got, ","), "log") {
		t.Errorf("Formats() = %v", got)
	}
}

func TestTextReader(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "contract.txt", "\ufeffContract #1001\r\nCompany: Acme\r\n")

	got, err := NewRegistry().Text(context.Background(), path)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if want := "Contract #1001\nCompany: Acme\n"; got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}

	bad := writeFile(t, dir, "bad.txt", "\xff\xfe\xfd")
	if _, err := NewRegistry().Text(context.Background(), bad); err == nil {
		t.Error("invalid UTF-8 should fail")
	}
}

func TestMissingFile(t *testing.T) {
	_, err := NewRegistry().Text(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want not-exist", err)
	}
}

func TestPDFReaderRejectsGarbage(t *testing.T) {
	path := writeFile(t, t.TempDir(), "fake.pdf", "this is not a pdf")
	if _, err := NewRegistry().Text(context.Background(), path); err == nil {
		t.Error("expected an error for a non-PDF file")
	}
}

func TestXLSXReader(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	rows := [][]any{
		{"Tower", "Company", "Status"},
		{"ATL-001", "Acme", "Active"},
		{"ATL-002", "", "Expired"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "towers.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}

	got, err := NewRegistry().Text(context.Background(), path)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "Sheet: Sheet1\nTower: ATL-001, Company: Acme, Status: Active\nTower: ATL-002, Status: Expired"
	if got != want {
		t.Errorf("Text =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderSheet(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
		want string
	}{
		{"empty", nil, ""},
		{"header only", [][]string{{"a", "b"}}, "Sheet: s\na, b"},
		{"extra cells", [][]string{{"a"}, {"1", "2"}}, "Sheet: s\na: 1, 2"},
		{"blank row skipped", [][]string{{"a"}, {" "}, {"3"}}, "Sheet: s\na: 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderSheet("s", tt.rows); got != tt.want {
				t.Errorf("renderSheet = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanPage(t *testing.T) {
	got := cleanPage("  Title \n\n\n  body line \nnext\n\n")
	if want := "Title\n\nbody line\nnext"; got != want {
		t.Errorf("cleanPage = %q, want %q", got, want)
	}
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "contracts/c1.md", "Contract #7")
	src := NewDir(root, nil)

	got, err := src.Text(context.Background(), "contracts/c1.md")
	if err != nil || got != "Contract #7" {
		t.Fatalf("Text = %q, %v", got, err)
	}
	for _, id := range []string{"", "../etc/passwd", "/abs/path.txt"} {
		if _, err := src.Text(context.Background(), id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Text(%q) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writeFile(t, t.TempDir(), "a.txt", "x")
	if _, err := NewRegistry().Text(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
