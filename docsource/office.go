package docsource

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// DOCXReader extracts paragraph and table text from Word documents.
// Headings are kept as their own lines.
type DOCXReader struct{}

func (*DOCXReader) Formats() []string { return []string{"docx"} }

func (*DOCXReader) Read(ctx context.Context, path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	data, err := readZipEntry(&r.Reader, "word/document.xml")
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := docxText(data)
	if err != nil {
		return "", fmt.Errorf("parsing DOCX XML: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("no text found in DOCX")
	}
	return text, nil
}

// PPTXReader extracts slide text in slide order, one block per slide.
type PPTXReader struct{}

func (*PPTXReader) Formats() []string { return []string{"pptx"} }

func (*PPTXReader) Read(ctx context.Context, path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("opening PPTX: %w", err)
	}
	defer r.Close()

	slides := make(map[int]*zip.File)
	for _, f := range r.File {
		if num := slideNumber(f.Name); num > 0 {
			slides[num] = f
		}
	}
	nums := make([]int, 0, len(slides))
	for n := range slides {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var blocks []string
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := readZipFile(slides[num])
		if err != nil {
			continue
		}
		if text := slideText(data); text != "" {
			blocks = append(blocks, fmt.Sprintf("Slide %d\n%s", num, text))
		}
	}
	if len(blocks) == 0 {
		return "", errors.New("no text found in PPTX")
	}
	return strings.Join(blocks, "\n\n"), nil
}

func readZipEntry(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name == name {
			return readZipFile(f)
		}
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type docxDocument struct {
	Body struct {
		Paras  []docxPara  `xml:"p"`
		Tables []docxTable `xml:"tbl"`
	} `xml:"body"`
}

type docxPara struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paras []docxPara `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (p docxPara) text() string {
	var b strings.Builder
	for _, run := range p.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// docxText renders body paragraphs line by line, then each table with one
// "| a | b |" line per row.
func docxText(data []byte) (string, error) {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", err
	}

	var lines []string
	for _, para := range doc.Body.Paras {
		if t := para.text(); t != "" {
			lines = append(lines, t)
		}
	}
	for _, tbl := range doc.Body.Tables {
		lines = append(lines, "")
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var parts []string
				for _, p := range cell.Paras {
					if t := p.text(); t != "" {
						parts = append(parts, t)
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
		}
	}
	return strings.Join(lines, "\n"), nil
}

type pptxSlide struct {
	CSld struct {
		SpTree struct {
			SPs []struct {
				TxBody *struct {
					Paras []struct {
						Runs []struct {
							Text string `xml:"t"`
						} `xml:"r"`
					} `xml:"p"`
				} `xml:"txBody"`
			} `xml:"sp"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

func slideText(data []byte) string {
	var slide pptxSlide
	if err := xml.Unmarshal(data, &slide); err != nil {
		return ""
	}
	var parts []string
	for _, sp := range slide.CSld.SpTree.SPs {
		if sp.TxBody == nil {
			continue
		}
		for _, para := range sp.TxBody.Paras {
			var line strings.Builder
			for _, run := range para.Runs {
				line.WriteString(run.Text)
			}
			if t := strings.TrimSpace(line.String()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// slideNumber returns N for "ppt/slides/slideN.xml", or 0.
func slideNumber(name string) int {
	if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
		return 0
	}
	var num int
	fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"), "%d", &num)
	return num
}
