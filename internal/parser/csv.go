package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
)

const byteOrderMark = "\ufeff"

func sanitizeHeader(name string) string {
	return strings.TrimSpace(strings.ReplaceAll(name, byteOrderMark, ""))
}

// ValidateHeader checks that header matches models.ExpectedHeader exactly,
// ignoring a leading BOM and surrounding whitespace on each cell.
func ValidateHeader(header []string) error {
	if header == nil {
		return &models.HeaderError{Expected: models.ExpectedHeader}
	}

	got := make([]string, len(header))
	for i, h := range header {
		got[i] = sanitizeHeader(h)
	}

	if slices.Equal(got, models.ExpectedHeader) {
		return nil
	}

	herr := &models.HeaderError{Expected: models.ExpectedHeader, Got: got}
	for _, h := range models.ExpectedHeader {
		if !slices.Contains(got, h) {
			herr.Missing = append(herr.Missing, h)
		}
	}
	for _, h := range got {
		if !slices.Contains(models.ExpectedHeader, h) {
			herr.Extra = append(herr.Extra, h)
		}
	}
	herr.OrderProblem = len(herr.Missing) == 0 && len(herr.Extra) == 0
	return herr
}

// ValidateFile reads only the header row of filePath and validates it.
func ValidateFile(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return &models.FileError{Path: filePath, Op: "open", Err: err}
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ValidateHeader(nil)
		}
		return ValidateHeader([]string{})
	}
	return ValidateHeader(header)
}

// ReadRecords reads every data row after the header. Cells are sanitized
// (NUL bytes removed, surrounding whitespace trimmed) but never interpreted.
// Short rows are padded with empty cells and extra cells are dropped, so
// ragged rows reach staging and are classified row by row. Invalid UTF-8 or
// an unreadable input fails the whole read.
func ReadRecords(r io.Reader) ([]models.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ValidateHeader(nil)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := ValidateHeader(header); err != nil {
		return nil, err
	}

	var records []models.RawRecord
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", line, err)
		}

		cells := make([]string, len(models.ExpectedHeader))
		for i, cell := range record[:min(len(record), len(cells))] {
			if !utf8.ValidString(cell) {
				return nil, fmt.Errorf("invalid UTF-8 in record %d, column %s", line, models.ExpectedHeader[i])
			}
			cells[i] = sanitizeCell(cell)
		}

		records = append(records, models.RawRecord{
			ID:        cells[0],
			RoomID:    cells[1],
			NotedDate: cells[2],
			Temp:      cells[3],
			Location:  cells[4],
		})
	}

	return records, nil
}

// ReadFile opens filePath and returns its data rows.
func ReadFile(filePath string) ([]models.RawRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, &models.FileError{Path: filePath, Op: "open", Err: err}
	}
	defer file.Close()

	return ReadRecords(file)
}

// CountRows returns the number of data rows in filePath. Counting is lenient
// and informational only: any failure yields 0.
func CountRows(filePath string) int {
	file, err := os.Open(filePath)
	if err != nil {
		return 0
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	count := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0
		}
		count++
	}

	if count == 0 {
		return 0
	}
	return count - 1
}

func sanitizeCell(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "\x00", ""))
}
