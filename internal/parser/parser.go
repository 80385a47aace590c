// Package parser turns report files into normalized, chunked text at
// ingestion time. The retrieval core never calls this; it only ever sees the
// fragments this package produced.
package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"summaid/internal/config"
	"summaid/internal/models"
	"summaid/internal/normalizer"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// ParseReport extracts text from a report file and chunks it with overlap.
// PDFs chunk per page; spreadsheet lab reports chunk per sheet.
func ParseReport(filePath string, ragCfg config.RAGConfig) ([]models.Chunk, error) {
	if ragCfg.ChunkSize <= 0 {
		ragCfg.ChunkSize = defaultChunkSize
	}
	if ragCfg.ChunkOverlap <= 0 {
		ragCfg.ChunkOverlap = defaultChunkOverlap
	}
	p := reportParser{chunkSize: ragCfg.ChunkSize, chunkOverlap: ragCfg.ChunkOverlap}

	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".pdf":
		return p.parsePDF(filePath)
	case ".docx":
		return p.parseDOCX(filePath)
	case ".xlsx":
		return p.parseXLSX(filePath)
	case ".ods":
		return p.parseODS(filePath)
	case ".txt", ".md":
		return p.parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported report format: %s", ext)
	}
}

type reportParser struct {
	chunkSize    int
	chunkOverlap int
}

func (p reportParser) parsePDF(filePath string) ([]models.Chunk, error) {
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

	var chunks []models.Chunk
	for i := 1; i <= reader.NumPage(); i++ {
		pageText, err := reader.Page(i).GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		chunks = append(chunks, p.chunkPage(normalizer.Normalize(pageText), i)...)
	}
	return chunks, nil
}

func (p reportParser) parseDOCX(filePath string) ([]models.Chunk, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := stripDocxTags(r.Editable().GetContent())
	return p.chunkPage(normalizer.Normalize(content), 1), nil
}

func (p reportParser) parseXLSX(filePath string) ([]models.Chunk, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for sheetNum, sheet := range f.Sheets {
		var text strings.Builder
		fmt.Fprintf(&text, "%s\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t") + "\n")
		}
		chunks = append(chunks, p.chunkPage(normalizer.Normalize(text.String()), sheetNum+1)...)
	}
	return chunks, nil
}

func (p reportParser) parseODS(filePath string) ([]models.Chunk, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []models.Chunk
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		var text strings.Builder
		fmt.Fprintf(&text, "%s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t") + "\n")
		}
		chunks = append(chunks, p.chunkPage(normalizer.Normalize(text.String()), sheetNum+1)...)
	}
	return chunks, nil
}

func (p reportParser) parseText(filePath string) ([]models.Chunk, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if strings.ToLower(filepath.Ext(filePath)) == ".md" {
		text, err = renderMarkdown(text)
		if err != nil {
			return nil, err
		}
	}
	return p.chunkPage(normalizer.Normalize(text), 1), nil
}

// chunkPage splits one page of text into overlapping chunks and stamps each
// with the structural section it opens with, when it has one.
func (p reportParser) chunkPage(content string, pageNumber int) []models.Chunk {
	var chunks []models.Chunk
	for i, chunkText := range splitWithOverlap(content, p.chunkSize, p.chunkOverlap) {
		chunks = append(chunks, models.Chunk{
			Content:    chunkText,
			PageNumber: pageNumber,
			ChunkID:    i + 1,
			Section:    DetectSection(chunkText),
		})
	}
	return chunks
}

// DetectSection returns the first structural section header appearing as a
// standalone line of the chunk, or "".
func DetectSection(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ":")
		for _, section := range models.StructuralSections {
			if strings.EqualFold(line, section) {
				return section
			}
		}
	}
	return ""
}

// splitWithOverlap cuts content into chunks of at most maxChars, overlapping
// by overlapChars, preferring to break at whitespace or sentence ends within
// the last tenth of a chunk.
func splitWithOverlap(content string, maxChars, overlapChars int) []string {
	content = strings.TrimSpace(content)
	if content == "" || maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}
	if len(content) <= maxChars {
		return []string{content}
	}

	var chunks []string
	start := 0
	for start < len(content) {
		end := min(start+maxChars, len(content))
		if end < len(content) {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if content[i] == ' ' || content[i] == '\n' || content[i] == '.' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimSpace(content[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(content) {
			break
		}
		// Overlap is anchored to where this chunk actually ended, so a
		// whitespace break never opens a gap between chunks.
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// stripDocxTags drops any inline XML tags the docx content extraction leaves
// behind.
func stripDocxTags(content string) string {
	var out strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// renderMarkdown converts a markdown report to plain-ish text by rendering
// and tag-stripping, so markdown syntax never leaks into fragments.
func renderMarkdown(text string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", err
	}
	return stripDocxTags(buf.String()), nil
}
