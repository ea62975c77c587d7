package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	feed "home-manager/internal/feed/domain"
	"home-manager/internal/observability/metrics"
)

const maxExportEntries = 5000

// ExportHandler serves GET /api/v1/feed/export.xlsx and export.pdf.
type ExportHandler struct {
	feed Lister
}

// NewExportHandler constructs an export handler.
func NewExportHandler(lister Lister) (*ExportHandler, error) {
	if lister == nil {
		return nil, errors.New("feed export: nil lister")
	}
	return &ExportHandler{feed: lister}, nil
}

// ServeHTTP renders entries after ?after=<seq> in the format named by the path suffix.
func (h *ExportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idx := strings.LastIndex(r.URL.Path, ".")
	if idx < 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	format := r.URL.Path[idx+1:]
	if format != "xlsx" && format != "pdf" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	after, err := parseIntQuery(r, "after")
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}

	start := time.Now()
	entries, err := h.feed.List(r.Context(), after, maxExportEntries)
	if err != nil {
		metrics.ObserveFeedExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "xlsx":
		body, err = BuildFeedXLSX(entries)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		body, err = BuildFeedPDF(entries)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveFeedExport(format, metrics.ResultError, time.Since(start))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveFeedExport(format, metrics.ResultSuccess, time.Since(start))

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="feed.%s"`, format))
	_, _ = w.Write(body)
}

// BuildFeedXLSX renders feed entries as a single-sheet workbook.
func BuildFeedXLSX(entries []feed.Entry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "feed"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{"Seq", "Received", "Device", "Type", "Name", "Version", "Status", "Observed"}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, header)
	}
	for i, entry := range entries {
		row := i + 2
		r := entry.Report
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), entry.Seq)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), entry.ReceivedAt.Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), r.DeviceCode)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), r.DeviceType)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), r.DeviceName)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), r.FirmwareVersion)
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), string(r.Status))
		_ = f.SetCellValue(sheet, fmt.Sprintf("H%d", row), r.ObservedAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFeedPDF renders feed entries as a minimal table.
func BuildFeedPDF(entries []feed.Entry) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Device Activity Feed")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Entries: %d", len(entries)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(20, 6, "Seq", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Received", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Name", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Observed", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, entry := range entries {
		r := entry.Report
		pdf.CellFormat(20, 6, fmt.Sprintf("%d", entry.Seq), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, entry.ReceivedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, r.DeviceCode, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, r.DeviceName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(r.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, r.ObservedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
