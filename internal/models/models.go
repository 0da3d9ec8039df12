package models

import (
	"time"

	"github.com/google/uuid"
)

// ExpectedHeader is the exact header a landing file must carry, in order.
var ExpectedHeader = []string{"id", "room_id/id", "noted_date", "temp", "out/in"}

// RawRecord holds the five raw text fields of one data row, exactly as read.
type RawRecord struct {
	ID        string
	RoomID    string
	NotedDate string
	Temp      string
	Location  string
}

// Fields returns the record in header order.
func (r RawRecord) Fields() []string {
	return []string{r.ID, r.RoomID, r.NotedDate, r.Temp, r.Location}
}

// Payload returns the record keyed by the original header names. It is the
// structured form stored with a reject.
func (r RawRecord) Payload() map[string]string {
	return map[string]string{
		"id":         r.ID,
		"room_id/id": r.RoomID,
		"noted_date": r.NotedDate,
		"temp":       r.Temp,
		"out/in":     r.Location,
	}
}

// StagedRow is one raw row belonging to exactly one run.
type StagedRow struct {
	RunID      uuid.UUID
	SourceFile string
	RowNum     int
	Raw        RawRecord
	RowHash    string
	LoadedAt   time.Time
}

// Location is the canonical in/out tag of a reading.
type Location string

const (
	LocationIn  Location = "In"
	LocationOut Location = "Out"
)

// Reading is a curated row keyed by its natural key.
type Reading struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	ReadingTS  time.Time `json:"reading_ts"`
	TempC      float64   `json:"temp_c"`
	Location   Location  `json:"location"`
	SourceFile string    `json:"source_file"`
	IngestedAt time.Time `json:"ingested_at,omitempty"`
}

// RejectReason is the single reason code recorded for an invalid row.
type RejectReason string

const (
	ReasonNullID          RejectReason = "null_id"
	ReasonRoomIDNull      RejectReason = "room_id_null"
	ReasonDateParseError  RejectReason = "date_parse_error"
	ReasonTempNotNumeric  RejectReason = "temp_not_numeric"
	ReasonTempOutOfRange  RejectReason = "temp_out_of_range"
	ReasonLocationInvalid RejectReason = "location_invalid"
	ReasonDupInFile       RejectReason = "dup_in_file"
)

// Reject is a staged row found invalid.
type Reject struct {
	RunID      uuid.UUID    `json:"run_id"`
	SourceFile string       `json:"source_file"`
	RowNum     int          `json:"row_num"`
	Raw        RawRecord    `json:"-"`
	Reason     RejectReason `json:"reason"`
	RejectedAt time.Time    `json:"rejected_at,omitempty"`
}

// FileInfo describes a candidate file found in the landing directory.
type FileInfo struct {
	Path string
	Name string
	Size int64
}

// TransformResult carries the counts produced by one transform pass.
type TransformResult struct {
	RowsValid    int
	RowsRejected int
}

// ScanSummary aggregates the per-file outcomes of one directory scan.
type ScanSummary struct {
	FilesSeen           int
	Succeeded           int
	Failed              int
	Skipped             int
	SchemaRejected      int
	Deferred            int
	InvariantViolations int
	RowsValid           int
	RowsRejected        int
}
