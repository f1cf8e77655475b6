// Package csvsink appends live readings to a per-day CSV file and
// reads such files back for bulk upload. Files carry a UTF-8 BOM and
// use the Excel dialect so spreadsheet tools open them directly.
package csvsink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/solarpush/solarpush/pkg/types"
)

const (
	datePlaceholder = "DATE"
	rowTimeLayout   = "2006-01-02 15:04"
	utf8Bom         = "\uFEFF"
)

var header = []string{"date", "eday_kwh", "pgrid_w", "energy_used", "load", "temp", "voltage"}

// Sink writes one CSV file per day. A DATE placeholder in the path is
// replaced with the current date on every append, so a long-running
// process rolls over to a new file at midnight.
type Sink struct {
	pathPattern  string
	decimalComma bool

	now func() time.Time
}

func NewSink(pathPattern string, decimalComma bool) *Sink {
	return &Sink{
		pathPattern:  pathPattern,
		decimalComma: decimalComma,
		now:          time.Now,
	}
}

// Append writes one reading to today's file, creating it with a BOM
// and header row first if needed.
func (s *Sink) Append(reading *types.Reading) error {
	path := strings.ReplaceAll(s.pathPattern, datePlaceholder, s.now().Format("2006-01-02"))

	if err := s.writeHeader(path); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.UseCRLF = true
	if err := writer.Write(s.row(reading)); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// writeHeader creates the file with BOM and header when it does not
// exist yet. A concurrent create losing the race is fine, the file is
// then already set up.
func (s *Sink) writeHeader(path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(utf8Bom); err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	writer.UseCRLF = true
	if err := writer.Write(header); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func (s *Sink) row(reading *types.Reading) []string {
	temperature := ""
	if reading.TemperatureC != nil {
		temperature = s.formatValue(*reading.TemperatureC)
	}
	return []string{
		reading.Timestamp.Format(rowTimeLayout),
		s.formatValue(reading.EnergyTodayKwh),
		s.formatValue(reading.PowerW),
		s.formatValue(reading.EnergyUsedKwh),
		s.formatValue(reading.LoadW),
		temperature,
		s.formatValue(reading.GridVoltageV),
	}
}

// ReadDay parses a sink file back into readings for bulk upload.
func ReadDay(path string, decimalComma bool) ([]types.Reading, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}

	reader := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(raw), utf8Bom)))
	reader.FieldsPerRecord = len(header)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV file: %w", err)
	}
	if len(rows) == 0 || rows[0][0] != header[0] {
		return nil, fmt.Errorf("%s is not a readings CSV file", path)
	}

	s := &Sink{decimalComma: decimalComma}
	readings := make([]types.Reading, 0, len(rows)-1)
	for _, row := range rows[1:] {
		timestamp, err := time.ParseInLocation(rowTimeLayout, row[0], time.Local)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", row[0], err)
		}
		reading := types.Reading{
			Timestamp:      timestamp,
			EnergyTodayKwh: s.parseValue(row[1]),
			PowerW:         s.parseValue(row[2]),
			EnergyUsedKwh:  s.parseValue(row[3]),
			LoadW:          s.parseValue(row[4]),
			GridVoltageV:   s.parseValue(row[6]),
		}
		if row[5] != "" {
			temperature := s.parseValue(row[5])
			reading.TemperatureC = &temperature
		}
		readings = append(readings, reading)
	}
	return readings, nil
}

// formatValue renders a float with the configured decimal separator,
// so Excel opens the file properly in comma-decimal locales.
func (s *Sink) formatValue(v float64) string {
	formatted := strconv.FormatFloat(v, 'f', -1, 64)
	if s.decimalComma {
		formatted = strings.ReplaceAll(formatted, ".", ",")
	}
	return formatted
}

func (s *Sink) parseValue(raw string) float64 {
	if s.decimalComma {
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}
