package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"swap-assistant/internal/config"
	"swap-assistant/internal/models"
)

// TableConfig names the two columns holding the customer question and the
// customer-service answer.
type TableConfig struct {
	QuestionColumn string
	AnswerColumn   string
}

func tableConfigFrom(cfg *config.Config) TableConfig {
	if cfg == nil {
		return TableConfig{
			QuestionColumn: models.DefaultQuestionColumn,
			AnswerColumn:   models.DefaultAnswerColumn,
		}
	}
	return TableConfig{
		QuestionColumn: cfg.RAG.QuestionColumn,
		AnswerColumn:   cfg.RAG.AnswerColumn,
	}
}

// ParseTable reads the FAQ table at filePath into source records, one per row.
func ParseTable(filePath string, cfg *config.Config) ([]models.SourceRecord, error) {
	tc := tableConfigFrom(cfg)

	var rows [][]string
	var err error
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".csv":
		rows, err = readCSV(filePath)
	case ".xlsx":
		rows, err = readXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		rows, err = readWorkbook(filePath)
	default:
		return nil, fmt.Errorf("unsupported table format: %s", ext)
	}
	if err != nil {
		return nil, err
	}
	return rowsToRecords(filepath.Base(filePath), rows, tc)
}

func rowsToRecords(source string, rows [][]string, tc TableConfig) ([]models.SourceRecord, error) {
	header := -1
	for i, row := range rows {
		if !blankRow(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, nil
	}

	qCol, aCol := -1, -1
	for i, name := range rows[header] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case strings.EqualFold(name, tc.QuestionColumn):
			qCol = i
		case strings.EqualFold(name, tc.AnswerColumn):
			aCol = i
		}
	}
	if qCol < 0 || aCol < 0 {
		return nil, fmt.Errorf("%w: %s needs columns %q and %q", models.ErrInvalidConfiguration, source, tc.QuestionColumn, tc.AnswerColumn)
	}

	var records []models.SourceRecord
	for i := header + 1; i < len(rows); i++ {
		question := strings.TrimSpace(cell(rows[i], qCol))
		answer := strings.TrimSpace(cell(rows[i], aCol))
		if question == "" && answer == "" {
			continue
		}
		records = append(records, models.SourceRecord{
			Source:   source,
			Row:      i + 1, // 1-based, as shown by spreadsheet tools
			Question: question,
			Answer:   answer,
		})
	}
	return records, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// readCSV accepts both comma and semicolon separated exports.
func readCSV(filePath string) ([][]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if firstLine, _, _ := bytes.Cut(data, []byte("\n")); bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		r.Comma = ';'
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSX(filePath string) ([][]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	if len(f.Sheets) == 0 {
		return nil, nil
	}

	// only the first sheet holds the FAQ
	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			if c != nil {
				cells[i] = c.String()
			}
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readWorkbook(filePath string) ([][]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	return f.GetRows(sheets[0])
}
