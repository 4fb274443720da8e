package docsource

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, name string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for entry, body := range entries {
		w, err := zw.Create(entry)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func TestDOCXReader(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<w:document ` + wordNS + `><w:body>
<w:p><w:r><w:t>Contract #1001 - </w:t></w:r><w:r><w:t>Company: Acme.</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>Status: Active.</w:t></w:r></w:p>
<w:tbl>
<w:tr><w:tc><w:p><w:r><w:t>Tower</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Status</w:t></w:r></w:p></w:tc></w:tr>
<w:tr><w:tc><w:p><w:r><w:t>ATL-001</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Active</w:t></w:r></w:p></w:tc></w:tr>
</w:tbl>
</w:body></w:document>`
	path := writeZip(t, "lease.docx", map[string]string{"word/document.xml": doc})

	got, err := NewRegistry().Text(context.Background(), path)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "Contract #1001 - Company: Acme.\nStatus: Active.\n\n| Tower | Status |\n| ATL-001 | Active |"
	if got != want {
		t.Errorf("Text =\n%q\nwant\n%q", got, want)
	}
}

func TestDOCXReaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		entries map[string]string
	}{
		{"no document part", map[string]string{"word/styles.xml": "<x/>"}},
		{"empty body", map[string]string{"word/document.xml": `<w:document ` + wordNS + `><w:body/></w:document>`}},
		{"bad xml", map[string]string{"word/document.xml": "<w:document"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeZip(t, "x.docx", tt.entries)
			if _, err := (&DOCXReader{}).Read(context.Background(), path); err == nil {
				t.Error("expected an error")
			}
		})
	}

	notZip := writeFile(t, t.TempDir(), "plain.docx", "not a zip")
	if _, err := (&DOCXReader{}).Read(context.Background(), notZip); err == nil {
		t.Error("non-zip file should fail")
	}
}

func slideXML(lines ...string) string {
	body := ""
	for _, l := range lines {
		body += `<a:p><a:r><a:t>` + l + `</a:t></a:r></a:p>`
	}
	return `<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
		`<p:cSld><p:spTree><p:sp><p:txBody>` + body + `</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func TestPPTXReader(t *testing.T) {
	path := writeZip(t, "deck.pptx", map[string]string{
		"ppt/slides/slide10.xml":            slideXML("Risk: payment default"),
		"ppt/slides/slide2.xml":             slideXML("Tower ATL-001", "Company: Acme"),
		"ppt/slides/slide3.xml":             slideXML(),
		"ppt/slides/_rels/slide2.xml.rels":  "<Relationships/>",
		"ppt/slideLayouts/slideLayout1.xml": slideXML("layout text"),
	})

	got, err := NewRegistry().Text(context.Background(), path)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "Slide 2\nTower ATL-001\nCompany: Acme\n\nSlide 10\nRisk: payment default"
	if got != want {
		t.Errorf("Text =\n%q\nwant\n%q", got, want)
	}

	empty := writeZip(t, "empty.pptx", map[string]string{"ppt/slides/slide1.xml": slideXML()})
	if _, err := (&PPTXReader{}).Read(context.Background(), empty); err == nil {
		t.Error("deck without text should fail")
	}
}

func TestSlideNumber(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"ppt/slides/slide1.xml", 1},
		{"ppt/slides/slide12.xml", 12},
		{"ppt/slides/_rels/slide1.xml.rels", 0},
		{"ppt/slideLayouts/slideLayout1.xml", 0},
		{"ppt/slides/slide.xml", 0},
	}
	for _, tt := range tests {
		if got := slideNumber(tt.name); got != tt.want {
			t.Errorf("slideNumber(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
