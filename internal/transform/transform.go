// Package transform classifies the staged rows of one run into curated
// readings and rejects. It is a pure batch computation; the caller applies
// the result inside a single transaction.
package transform

import (
	"math/big"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ThiagoRGoveia/sensor-elt/internal/models"
)

const (
	// NotedDateLayout is day-month-year hour:minute. Single-digit day, month
	// and hour are accepted; minutes need two digits.
	NotedDateLayout = "2-1-2006 15:04"

	TempMin = -50
	TempMax = 80
)

var (
	numericPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

	tempMin = big.NewRat(TempMin, 1)
	tempMax = big.NewRat(TempMax, 1)
)

// Normalized holds the independently coerced fields of one staged row. A nil
// pointer means the field failed normalization. Temp is kept exact so the
// bound check is a decimal comparison.
type Normalized struct {
	RoomID    *string
	ReadingTS *time.Time
	Temp      *big.Rat
	Location  *models.Location
}

// Normalize trims and coerces every field of raw independently.
func Normalize(raw models.RawRecord) Normalized {
	var n Normalized

	if room := strings.TrimSpace(raw.RoomID); room != "" {
		n.RoomID = &room
	}
	if ts, ok := ParseNotedDate(raw.NotedDate); ok {
		n.ReadingTS = &ts
	}
	if temp, ok := ParseTemp(raw.Temp); ok {
		n.Temp = temp
	}
	if loc, ok := ParseLocation(raw.Location); ok {
		n.Location = &loc
	}

	return n
}

// ParseNotedDate parses a source timestamp, interpreted as UTC.
func ParseNotedDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(NotedDateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ParseTemp accepts only digits with an optional sign and at most one
// decimal point. Any matching value is numeric, however large.
func ParseTemp(value string) (*big.Rat, bool) {
	value = strings.TrimSpace(value)
	if !numericPattern.MatchString(value) {
		return nil, false
	}

	sign, digits := "", value
	if digits[0] == '+' || digits[0] == '-' {
		sign, digits = digits[:1], digits[1:]
	}
	if strings.HasPrefix(digits, ".") {
		digits = "0" + digits
	}
	digits = strings.TrimSuffix(digits, ".")

	temp, ok := new(big.Rat).SetString(sign + digits)
	if !ok {
		return nil, false
	}
	return temp, true
}

// ParseLocation maps "in"/"out" in any case to the canonical tag.
func ParseLocation(value string) (models.Location, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "in":
		return models.LocationIn, true
	case "out":
		return models.LocationOut, true
	}
	return "", false
}

// InRange reports whether temp lies in the closed interval [TempMin, TempMax].
func InRange(temp *big.Rat) bool {
	return temp.Cmp(tempMin) >= 0 && temp.Cmp(tempMax) <= 0
}

// TempCelsius converts an in-range temperature for storage.
func TempCelsius(temp *big.Rat) float64 {
	f, _ := temp.Float64()
	return f
}

type dupKey struct {
	sourceFile string
	id         string
}

// FirstOccurrences returns, for every (source file, id) group, the smallest
// row number. Equality is on the exact id string.
func FirstOccurrences(rows []models.StagedRow) map[dupKey]int {
	first := make(map[dupKey]int, len(rows))
	for _, row := range rows {
		key := dupKey{sourceFile: row.SourceFile, id: row.Raw.ID}
		if seen, ok := first[key]; !ok || row.RowNum < seen {
			first[key] = row.RowNum
		}
	}
	return first
}

// Validate returns the single reason a row is rejected, or "" when it is
// valid. Checks run in fixed precedence and the first failure wins.
func Validate(raw models.RawRecord, n Normalized, isDuplicate bool) models.RejectReason {
	switch {
	case strings.TrimSpace(raw.ID) == "":
		return models.ReasonNullID
	case n.RoomID == nil:
		return models.ReasonRoomIDNull
	case n.ReadingTS == nil:
		return models.ReasonDateParseError
	case n.Temp == nil:
		return models.ReasonTempNotNumeric
	case !InRange(n.Temp):
		return models.ReasonTempOutOfRange
	case n.Location == nil:
		return models.ReasonLocationInvalid
	case isDuplicate:
		return models.ReasonDupInFile
	}
	return ""
}

// Result is the outcome of classifying one run's staged rows.
type Result struct {
	Valid   []models.Reading
	Rejects []models.Reject
}

// Counts returns the valid/rejected totals. Their sum always equals the number
// of rows classified.
func (r Result) Counts() models.TransformResult {
	return models.TransformResult{RowsValid: len(r.Valid), RowsRejected: len(r.Rejects)}
}

// Classify runs normalization, in-file duplicate detection and validation
// over rows. Every row yields exactly one reading or one reject. Output keeps
// row-number order.
func Classify(rows []models.StagedRow) Result {
	ordered := make([]models.StagedRow, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].RowNum < ordered[j].RowNum })

	first := FirstOccurrences(ordered)

	var result Result
	for _, row := range ordered {
		n := Normalize(row.Raw)
		isDuplicate := first[dupKey{sourceFile: row.SourceFile, id: row.Raw.ID}] != row.RowNum

		if reason := Validate(row.Raw, n, isDuplicate); reason != "" {
			result.Rejects = append(result.Rejects, models.Reject{
				RunID:      row.RunID,
				SourceFile: row.SourceFile,
				RowNum:     row.RowNum,
				Raw:        row.Raw,
				Reason:     reason,
			})
			continue
		}

		result.Valid = append(result.Valid, models.Reading{
			ID:         row.Raw.ID,
			RoomID:     *n.RoomID,
			ReadingTS:  *n.ReadingTS,
			TempC:      TempCelsius(n.Temp),
			Location:   *n.Location,
			SourceFile: row.SourceFile,
		})
	}

	return result
}
