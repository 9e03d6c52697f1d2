package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

var exportHeader = []string{"Time", "Action", "Actor", "Account", "Camera", "Event", "Alarm", "Detail"}

func exportRow(e Entry) []string {
	return []string{
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(e.Action),
		e.Actor,
		e.AccountID,
		e.CameraID,
		e.EventID,
		e.AlarmID,
		string(e.Detail),
	}
}

// BuildCSV renders entries as CSV with a header row.
func BuildCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.Write(exportRow(e)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildXLSX renders a summary sheet and an entries sheet.
func BuildXLSX(q Query, entries []Entry, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	summarySheet := "summary"
	entriesSheet := "entries"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Audit Trail")
	_ = f.SetCellValue(summarySheet, "A3", "Account")
	_ = f.SetCellValue(summarySheet, "B3", q.AccountID)
	_ = f.SetCellValue(summarySheet, "A4", "Event")
	_ = f.SetCellValue(summarySheet, "B4", q.EventID)
	_ = f.SetCellValue(summarySheet, "A5", "Alarm")
	_ = f.SetCellValue(summarySheet, "B5", q.AlarmID)
	_ = f.SetCellValue(summarySheet, "A6", "From")
	_ = f.SetCellValue(summarySheet, "B6", formatBound(q.From))
	_ = f.SetCellValue(summarySheet, "A7", "To")
	_ = f.SetCellValue(summarySheet, "B7", formatBound(q.To))
	_ = f.SetCellValue(summarySheet, "A8", "Entries")
	_ = f.SetCellValue(summarySheet, "B8", len(entries))
	_ = f.SetCellValue(summarySheet, "A9", "Generated")
	_ = f.SetCellValue(summarySheet, "B9", generatedAt.UTC().Format(time.RFC3339))

	for i, title := range exportHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(entriesSheet, cell, title)
	}
	for i, e := range entries {
		for j, value := range exportRow(e) {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			_ = f.SetCellValue(entriesSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildPDF renders a landscape table of entries. Detail payloads are omitted.
func BuildPDF(q Query, entries []Entry, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Audit Trail")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if q.AccountID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Account: %s", q.AccountID))
		pdf.Ln(5)
	}
	if q.EventID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Event: %s", q.EventID))
		pdf.Ln(5)
	}
	if q.AlarmID != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Alarm: %s", q.AlarmID))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Range: %s - %s", formatBound(q.From), formatBound(q.To)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	widths := []float64{48, 32, 36, 40, 40, 40, 40}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range exportHeader[:len(widths)] {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, e := range entries {
		row := exportRow(e)
		for i := range widths {
			pdf.CellFormat(widths[i], 6, truncate(row[i], 28), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[:n-1] + "~"
}
