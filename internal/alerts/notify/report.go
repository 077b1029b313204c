package notify

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	alerts "plantwatch/internal/alerts/domain"
	catalog "plantwatch/internal/catalog/domain"
	readings "plantwatch/internal/readings/domain"
)

// BuildEventReportPDF renders a short PDF summary of a critical event,
// attached to outgoing notifications. recent may be nil.
func BuildEventReportPDF(event alerts.CriticalEvent, info *catalog.SensorInfo, recent []readings.Point) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Critical Reading Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if info != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Device: %s", info.DeviceName))
		pdf.Ln(5)
		sensorLine := fmt.Sprintf("Sensor: %s (%s)", info.SensorName, info.TypeName)
		if info.Unit != "" {
			sensorLine = fmt.Sprintf("Sensor: %s (%s, %s)", info.SensorName, info.TypeName, info.Unit)
		}
		pdf.Cell(0, 6, sensorLine)
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Value: %g", event.Value))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Z-Score: %.2f", event.ZScore))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Detail: %s", event.Description))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Detected: %s", event.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	if len(recent) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 6, "Timestamp", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Value", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, point := range recent {
			pdf.CellFormat(60, 6, point.TS.Format(time.RFC3339), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, fmt.Sprintf("%.3f", point.Value), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
