package meeting

import (
	"fmt"
	"time"
)

// Document field names as stored in the meeting record
const (
	FieldID                           = "id"
	FieldTitle                        = "title"
	FieldDate                         = "date"
	FieldEndTime                      = "endTime"
	FieldTranscript                   = "transcript"
	FieldSummary                      = "summary"
	FieldSecondarySummary             = "secondarySummary"
	FieldActionItems                  = "actionItems"
	FieldDuration                     = "duration"
	FieldProcessingComplete           = "processingComplete"
	FieldSecondaryProcessingComplete  = "secondaryProcessingComplete"
	FieldProcessingError              = "processingError"
	FieldSecondaryProcessingError     = "secondaryProcessingError"
	FieldProcessingStatus             = "processingStatus"
	FieldNeedsManualProcessing        = "needsManualProcessing"
	FieldRawSecondaryTranscript       = "rawSecondaryTranscript"
	FieldSecondaryProcessingStartTime = "secondaryProcessingStartTime"
	FieldProcessingErrorTimestamp     = "processingErrorTimestamp"
)

// Processing status values used by secondary processing
const (
	StatusProcessing  = "processing"
	StatusSummarizing = "summarizing"
	StatusError       = "error"
)

// NotAvailable is the placeholder for missing action item attributes
const NotAvailable = "N/A"

// ActionItem is a single task extracted from a meeting summary
type ActionItem struct {
	What   string `json:"what"`
	Who    string `json:"who"`
	When   string `json:"when"`
	Status string `json:"status"`
}

// Normalize fills empty attributes with NotAvailable
func (a ActionItem) Normalize() ActionItem {
	if a.What == "" {
		a.What = NotAvailable
	}
	if a.Who == "" {
		a.Who = NotAvailable
	}
	if a.When == "" {
		a.When = NotAvailable
	}
	if a.Status == "" {
		a.Status = NotAvailable
	}
	return a
}

// Record is the persisted meeting document
type Record struct {
	ID                           string       `json:"id"`
	Title                        string       `json:"title,omitempty"`
	Date                         *time.Time   `json:"date,omitempty"`
	EndTime                      *time.Time   `json:"endTime,omitempty"`
	Transcript                   []string     `json:"transcript,omitempty"`
	Summary                      string       `json:"summary,omitempty"`
	SecondarySummary             string       `json:"secondarySummary,omitempty"`
	ActionItems                  []ActionItem `json:"actionItems,omitempty"`
	Duration                     string       `json:"duration,omitempty"`
	ProcessingComplete           bool         `json:"processingComplete,omitempty"`
	SecondaryProcessingComplete  bool         `json:"secondaryProcessingComplete,omitempty"`
	ProcessingError              string       `json:"processingError,omitempty"`
	SecondaryProcessingError     string       `json:"secondaryProcessingError,omitempty"`
	ProcessingStatus             string       `json:"processingStatus,omitempty"`
	NeedsManualProcessing        bool         `json:"needsManualProcessing,omitempty"`
	RawSecondaryTranscript       string       `json:"rawSecondaryTranscript,omitempty"`
	SecondaryProcessingStartTime *time.Time   `json:"secondaryProcessingStartTime,omitempty"`
	ProcessingErrorTimestamp     *time.Time   `json:"processingErrorTimestamp,omitempty"`
}

// LastFragment returns the most recently appended transcript fragment
func (r *Record) LastFragment() (string, bool) {
	if r == nil || len(r.Transcript) == 0 {
		return "", false
	}
	return r.Transcript[len(r.Transcript)-1], true
}

// Completed reports whether the primary or secondary summary has been applied
func (r *Record) Completed(secondary bool) bool {
	if secondary {
		return r.SecondaryProcessingComplete
	}
	return r.ProcessingComplete
}

// FormatDuration renders the elapsed time between start and end as whole minutes.
// A missing start or end yields "0 minutes".
func FormatDuration(start, end *time.Time) string {
	if start == nil || end == nil || end.Before(*start) {
		return "0 minutes"
	}
	return fmt.Sprintf("%d minutes", int64(end.Sub(*start)/time.Minute))
}
