// Package report writes one spreadsheet per finished SKU.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/RohitKumar027/ReliabilityPortal/internal/lab"
)

// Sheet names.
const (
	SummarySheet = "Summary"
	ResultsSheet = "Results"
)

var resultHeaders = []string{"Sample", "Seq", "Test", "Outcome", "NC", "NC Type", "Remarks", "Recorded At"}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Writer saves SKU workbooks under Dir.
type Writer struct {
	Dir string
}

// NewWriter returns a Writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir}
}

// FileName returns the workbook name for a SKU.
func FileName(requestID, modelName string) string {
	name := unsafeChars.ReplaceAllString(requestID+"_"+modelName, "-")
	return strings.Trim(name, "-") + ".xlsx"
}

// WriteSKU builds the workbook for one SKU and saves it, returning its path.
func (w *Writer) WriteSKU(req *lab.Request, modelName string, samples []*lab.Sample, outcome lab.SKUOutcome, now time.Time) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("report: create %s: %w", w.Dir, err)
	}
	f, err := Build(req, modelName, samples, outcome, now)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(w.Dir, FileName(req.ID, modelName))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("report: save %s: %w", path, err)
	}
	return path, nil
}

// Build returns the SKU workbook: a summary sheet and one results row per
// sample test.
func Build(req *lab.Request, modelName string, samples []*lab.Sample, outcome lab.SKUOutcome, now time.Time) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("report: %w", err)
	}
	if _, err := f.NewSheet(ResultsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("report: %w", err)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}},
	})

	summary := [][2]any{
		{"Request", req.ID},
		{"Product Type", req.ProductType},
		{"Product Class", req.ProductClass},
		{"Test Type", req.TestType},
		{"Model", modelName},
		{"Samples", len(samples)},
		{"Outcome", string(outcome)},
		{"Submitted", formatTime(req.SubmittedAt)},
		{"Deadline", formatTime(req.Deadline)},
		{"Generated", formatTime(now)},
	}
	for i, row := range summary {
		f.SetCellValue(SummarySheet, cellName(1, i+1), row[0])
		f.SetCellValue(SummarySheet, cellName(2, i+1), row[1])
	}
	f.SetCellStyle(SummarySheet, "A1", cellName(1, len(summary)), headerStyle)
	f.SetColWidth(SummarySheet, "A", "A", 16)
	f.SetColWidth(SummarySheet, "B", "B", 28)

	for i, name := range resultHeaders {
		f.SetCellValue(ResultsSheet, cellName(i+1, 1), name)
	}
	f.SetCellStyle(ResultsSheet, "A1", cellName(len(resultHeaders), 1), headerStyle)

	row := 2
	for _, s := range samples {
		for seq, test := range s.Tests {
			res, ok := s.TestResults[test]
			values := []any{s.ID, seq + 1, test, "", "", "", "", ""}
			if ok {
				values[3] = string(res.Outcome)
				values[4] = yesNo(res.NC)
				values[5] = res.NCType
				values[6] = res.Remarks
				values[7] = formatTime(res.RecordedAt)
			}
			for col, v := range values {
				f.SetCellValue(ResultsSheet, cellName(col+1, row), v)
			}
			row++
		}
	}
	f.SetPanes(ResultsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
	})
	f.SetColWidth(ResultsSheet, "A", "H", 15)
	return f, nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
