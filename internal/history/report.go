package history

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Richardsss22/NoZZZ/internal/models"

	"github.com/xuri/excelize/v2"
)

// ErrNoData is returned when there is nothing to report.
var ErrNoData = errors.New("no session data to report")

// ReportInput is what a session report is rendered from.
type ReportInput struct {
	Minutes     []models.MinuteSummary
	LastMinute  *models.MinuteSummary
	Driving     DrivingStatus
	Trip        *models.Trip
	GeneratedAt time.Time
}

// Report is a rendered session report.
type Report struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Report gathers the tracker's driving data around the given session
// minutes.
func (t *Tracker) Report(minutes []models.MinuteSummary, last *models.MinuteSummary) (*Report, error) {
	return BuildReport(ReportInput{
		Minutes:     minutes,
		LastMinute:  last,
		Driving:     t.Status(),
		Trip:        t.CurrentTrip(),
		GeneratedAt: t.clock.Now(),
	})
}

// BuildReport renders the plain-text session report.
func BuildReport(in ReportInput) (*Report, error) {
	if len(in.Minutes) == 0 && in.LastMinute == nil {
		return nil, ErrNoData
	}

	var b strings.Builder
	b.WriteString("NoZZZ Session Report\n\n")
	final := "Normal"
	if in.LastMinute != nil && in.LastMinute.Flag.Drowsy() {
		final = "DROWSINESS DETECTED"
	}
	fmt.Fprintf(&b, "Final state: %s\n", final)
	fmt.Fprintf(&b, "Duration: ~%d minutes\n\n", len(in.Minutes))

	b.WriteString("--- Blink history ---\n")
	b.WriteString("Minute | Normal | Slow\n")
	for _, m := range in.Minutes {
		fmt.Fprintf(&b, "M%d | %d | %d\n", m.Minute, m.NormalBlinks, m.SlowBlinks)
	}

	var distance, maxSpeed float64
	if in.Trip != nil {
		distance = in.Trip.DistanceKm
		maxSpeed = in.Trip.MaxSpeedKmh
	}
	if in.Driving.Driving || distance > 0 {
		state := "Stopped"
		if in.Driving.Driving {
			state = "Driving"
		}
		b.WriteString("\n--- Driving ---\n")
		fmt.Fprintf(&b, "State: %s\n", state)
		fmt.Fprintf(&b, "Current speed: %d km/h\n", int(math.Round(in.Driving.SpeedKmh)))
		fmt.Fprintf(&b, "Session distance: %.2f km\n", distance)
		fmt.Fprintf(&b, "Max speed: %d km/h\n", int(math.Round(maxSpeed)))
	}

	return &Report{
		Subject: "NoZZZ Report - " + in.GeneratedAt.Format("2006-01-02 15:04"),
		Body:    b.String(),
	}, nil
}

var minuteSheetHeader = []string{"Minute", "Normal Blinks", "Slow Blinks", "Flag", "Received At"}

var tripSheetHeader = []string{
	"Trip ID",
	"Start",
	"End",
	"Distance (km)",
	"Max Speed (km/h)",
	"Alarms",
	"Normal Blinks",
	"Slow Blinks",
	"Drowsy Minutes",
}

// BuildWorkbook renders the session minutes and the given trips as an xlsx
// workbook.
func BuildWorkbook(minutes []models.MinuteSummary, trips []*models.Trip) ([]byte, error) {
	f := excelize.NewFile()

	const minuteSheet = "Minutes"
	const tripSheet = "Trips"

	index, err := f.NewSheet(minuteSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(tripSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	minuteRows := make([][]interface{}, 0, len(minutes))
	for _, m := range minutes {
		received := ""
		if !m.ReceivedAt.IsZero() {
			received = m.ReceivedAt.Format(time.RFC3339)
		}
		minuteRows = append(minuteRows, []interface{}{
			fmt.Sprintf("M%d", m.Minute), m.NormalBlinks, m.SlowBlinks, string(m.Flag), received,
		})
	}
	if err := writeSheet(f, minuteSheet, minuteSheetHeader, minuteRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	tripRows := make([][]interface{}, 0, len(trips))
	for _, t := range trips {
		end := ""
		if t.EndTime != nil {
			end = t.EndTime.Format(time.RFC3339)
		}
		tripRows = append(tripRows, []interface{}{
			t.TripID,
			t.StartTime.Format(time.RFC3339),
			end,
			t.DistanceKm,
			t.MaxSpeedKmh,
			t.AlarmCount,
			t.NormalBlinks,
			t.SlowBlinks,
			t.DrowsyMinutes,
		})
	}
	if err := writeSheet(f, tripSheet, tripSheetHeader, tripRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	// File must remain open during WriteTo
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]interface{}, headerStyle int) error {
	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 18); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
