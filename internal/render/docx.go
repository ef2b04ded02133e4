package render

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fumiama/go-docx"
)

// DocxRenderer writes a Word document with one section per page:
// the original Arabic (right-to-left), then the translation, then the transliteration.
type DocxRenderer struct {
	outDir string
	log    *slog.Logger
}

func NewDocxRenderer(outDir string, logger *slog.Logger) *DocxRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocxRenderer{outDir: outDir, log: logger}
}

var reUnsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (r *DocxRenderer) Render(ctx context.Context, in Input) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := reUnsafeName.ReplaceAllString(in.BaseName, "_")
	if name == "" {
		name = "document"
	}
	final := filepath.Join(r.outDir, name+".docx")

	tmp, err := os.CreateTemp(r.outDir, name+"-*.docx.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp docx: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := buildDocument(in).WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write docx: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp docx: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("move docx into place: %w", err)
	}
	r.log.Info("document rendered", "path", final)
	return final, nil
}

type stream struct {
	label string
	rtl   bool
	pages map[int]string
}

func buildDocument(in Input) *docx.Docx {
	streams := []stream{
		{label: "Original", rtl: true, pages: pageMap(in.Original)},
		{label: "Translation", pages: pageMap(in.Translated)},
		{label: "Transliteration", pages: pageMap(in.Transliterated)},
	}
	seen := map[int]struct{}{}
	for _, s := range streams {
		for n := range s.pages {
			seen[n] = struct{}{}
		}
	}
	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	doc := docx.New().WithDefaultTheme()
	if in.Title != "" {
		doc.AddParagraph().AddText(in.Title).Bold().Size("32")
	}
	for i, n := range nums {
		if i > 0 {
			doc.AddParagraph().AddPageBreaks()
		}
		doc.AddParagraph().AddText("Page " + strconv.Itoa(n)).Bold().Size("28")
		for _, s := range streams {
			text, ok := s.pages[n]
			if !ok {
				continue
			}
			doc.AddParagraph().AddText(s.label).Bold().Size("24")
			for _, line := range strings.Split(text, "\n") {
				if s.rtl {
					rtlParagraph(doc, line)
					continue
				}
				doc.AddParagraph().AddText(line)
			}
		}
	}
	// sectPr has to close the body.
	return doc.WithA4Page()
}

// bidiProps is the w:pPr of a right-to-left paragraph. docx.ParagraphProperties
// has no w:bidi, so it goes in as the first paragraph child.
type bidiProps struct {
	XMLName xml.Name `xml:"w:pPr"`
	Bidi    struct{} `xml:"w:bidi"`
	Jc      docx.Justification
}

func rtlParagraph(doc *docx.Docx, text string) {
	p := doc.AddParagraph()
	p.Children = append(p.Children, &bidiProps{Jc: docx.Justification{Val: "right"}})
	p.AddText(text).Font("", "", "", "cs").SizeCs("24")
}

func pageMap(text string) map[int]string {
	out := map[int]string{}
	for _, p := range SplitPages(text) {
		out[p.Number] = p.Text
	}
	return out
}
