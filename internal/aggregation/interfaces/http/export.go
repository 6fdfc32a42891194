package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	aggapp "energy-dashboard/internal/aggregation/application"
	apihttp "energy-dashboard/internal/api/http"
	"energy-dashboard/internal/observability/metrics"
)

const (
	formatXLSX = "xlsx"
	formatPDF  = "pdf"
)

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	if r.Method != http.MethodGet {
		apihttp.MethodNotAllowed(w, http.MethodGet)
		return
	}
	start := time.Now()
	dashboard, ok := h.dashboard(w, r)
	if !ok {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		return
	}

	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case formatPDF:
		data, err = BuildDashboardPDF(dashboard)
		contentType = "application/pdf"
	default:
		data, err = BuildDashboardXLSX(dashboard)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.WithError(err).WithField("format", format).Error("dashboard export failed")
		apihttp.WriteError(w, err)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))

	filename := fmt.Sprintf("dashboard-%s-%s.%s", dashboard.TimeWindow, dashboard.GeneratedAt.Format("20060102T150405Z"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// BuildDashboardPDF renders a one-page PDF report of a dashboard.
func BuildDashboardPDF(d aggapp.Dashboard) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Generation Dashboard")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s", d.TimeWindow))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", d.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Active Power (kW): %.3f", d.Electrical.ActivePower))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Reactive Power (kVAr): %.3f", d.Electrical.ReactivePower))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Energy (kWh): %.3f", d.Electrical.TotalEnergy))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Avg Efficiency (%%): %.2f", d.Performance.AvgEfficiency))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Equipment: %d total, %d operational, %d maintenance, %d fault",
		d.Equipment.Total, d.Equipment.Operational, d.Equipment.Maintenance, d.Equipment.Fault))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "State", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Active Power (kW)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Energy (kWh)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Equipment", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Fault", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range d.States {
		name := s.State.Name
		if name == "" {
			name = s.State.ID
		}
		pdf.CellFormat(40, 6, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.3f", s.Result.Electrical.ActivePower), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.3f", s.Result.Electrical.TotalEnergy), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.Result.Equipment.Total), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", s.Result.Equipment.Fault), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDashboardXLSX renders a dashboard as a two-sheet workbook.
func BuildDashboardXLSX(d aggapp.Dashboard) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	statesSheet := "states"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(statesSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Generation Dashboard", ""},
		{"Window", string(d.TimeWindow)},
		{"Generated", d.GeneratedAt.Format(time.RFC3339)},
		{"Active Power (kW)", d.Electrical.ActivePower},
		{"Reactive Power (kVAr)", d.Electrical.ReactivePower},
		{"Energy (kWh)", d.Electrical.TotalEnergy},
		{"Avg Efficiency (%)", d.Performance.AvgEfficiency},
		{"Avg Availability (%)", d.Performance.AvgAvailability},
		{"Equipment", d.Equipment.Total},
		{"Operational", d.Equipment.Operational},
		{"Maintenance", d.Equipment.Maintenance},
		{"Fault", d.Equipment.Fault},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	headers := []string{"State ID", "State", "Active Power (kW)", "Energy (kWh)", "Avg Efficiency (%)", "Equipment", "Fault", "Data Points"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(statesSheet, cell, header)
	}
	for i, s := range d.States {
		row := i + 2
		values := []any{
			s.State.ID,
			s.State.Name,
			s.Result.Electrical.ActivePower,
			s.Result.Electrical.TotalEnergy,
			s.Result.Performance.AvgEfficiency,
			s.Result.Equipment.Total,
			s.Result.Equipment.Fault,
			s.Result.DataPoints,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(statesSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
