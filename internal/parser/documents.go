package parser

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"swap-assistant/internal/models"
)

var (
	wordTextRe      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	wordParagraphRe = regexp.MustCompile(`</w:p>`)
)

// ParseDocument turns a free-text knowledge document into source records
// without a question. PDFs yield one record per page.
func ParseDocument(filePath string) ([]models.SourceRecord, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".md", ".markdown":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", ext)
	}
}

func parsePDF(filePath string) ([]models.SourceRecord, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var records []models.SourceRecord
	source := filepath.Base(filePath)
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", i, source, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		records = append(records, models.SourceRecord{Source: source, Row: i, Answer: strings.TrimSpace(pageText)})
	}
	return records, nil
}

func parseDOCX(filePath string) ([]models.SourceRecord, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := extractTextFromXML(r.Editable().GetContent())
	if content == "" {
		return nil, nil
	}
	return []models.SourceRecord{{Source: filepath.Base(filePath), Row: 1, Answer: content}}, nil
}

// extractTextFromXML pulls the visible text out of WordprocessingML, one line
// per paragraph.
func extractTextFromXML(xmlContent string) string {
	var paragraphs []string
	for _, para := range wordParagraphRe.Split(xmlContent, -1) {
		var line strings.Builder
		for _, m := range wordTextRe.FindAllStringSubmatch(para, -1) {
			line.WriteString(html.UnescapeString(m[1]))
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return strings.Join(paragraphs, "\n")
}

func parseMarkdown(filePath string) ([]models.SourceRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := markdownToText(data)
	if content == "" {
		return nil, nil
	}
	return []models.SourceRecord{{Source: filepath.Base(filePath), Row: 1, Answer: content}}, nil
}

// markdownToText renders the markdown AST as plain text so that markup does
// not end up in the embedded chunks.
func markdownToText(source []byte) string {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var buf strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				buf.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			buf.Write(node.Segment.Value(source))
			if node.SoftLineBreak() || node.HardLineBreak() {
				buf.WriteString("\n")
			}
		case *ast.String:
			buf.Write(node.Value)
		case *ast.AutoLink:
			buf.Write(node.Label(source))
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	lines := strings.Split(buf.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}

func parseText(filePath string) ([]models.SourceRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	return []models.SourceRecord{{Source: filepath.Base(filePath), Row: 1, Answer: content}}, nil
}
