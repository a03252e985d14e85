package model

import "time"

// ResponseStatus is the lifecycle state of a survey response
type ResponseStatus string

const (
	StatusStarted    ResponseStatus = "started"
	StatusDraft      ResponseStatus = "draft"
	StatusInProgress ResponseStatus = "in-progress"
	StatusCompleted  ResponseStatus = "completed"
	StatusSubmitted  ResponseStatus = "submitted"
	StatusEnded      ResponseStatus = "ended"
)

// ResumableStatuses are the non-terminal states a user can keep editing
var ResumableStatuses = []ResponseStatus{StatusStarted, StatusDraft, StatusInProgress}

// WritableStatuses lists the response statuses that accept an answer write. Final rows are
// also accepted while a submission holds the response in submitted.
func WritableStatuses(isDraft bool) []ResponseStatus {
	if isDraft {
		return ResumableStatuses
	}
	return append(append([]ResponseStatus(nil), ResumableStatuses...), StatusSubmitted)
}

// IsTerminal reports whether the status rejects further answer writes
func (s ResponseStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSubmitted, StatusEnded:
		return true
	}
	return false
}

// IsValid reports whether s is one of the known statuses
func (s ResponseStatus) IsValid() bool {
	switch s {
	case StatusStarted, StatusDraft, StatusInProgress, StatusCompleted, StatusSubmitted, StatusEnded:
		return true
	}
	return false
}

// Period is a calendar month in which a response may be edited
type Period struct {
	Year  int `json:"year" bson:"year"`
	Month int `json:"month" bson:"month"`
}

// PeriodOf returns the calendar period containing t
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// Before reports whether p is strictly earlier than other
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

// ResponseKey identifies the attempt slot a response occupies; it is unique in storage
type ResponseKey struct {
	CenterRef         string
	SurveyRef         string
	SubmittedBy       string
	Year              int
	Month             int
	EvaluationVersion int
}

// SurveyResponse is one center's attempt at one survey for one period and version
type SurveyResponse struct {
	ID                string         `json:"id" bson:"_id"`
	CenterRef         string         `json:"center_ref" bson:"centerRef"`
	SurveyRef         string         `json:"survey_ref" bson:"surveyRef"`
	SubmittedBy       string         `json:"submitted_by,omitempty" bson:"submittedBy,omitempty"`
	Year              int            `json:"year" bson:"year"`
	Month             int            `json:"month" bson:"month"`
	EvaluationVersion int            `json:"evaluation_version" bson:"evaluationVersion"`
	Status            ResponseStatus `json:"status" bson:"status"`
	OverallScore      *float64       `json:"overall_score,omitempty" bson:"overallScore,omitempty"`
	SubmittedAt       *time.Time     `json:"submitted_at,omitempty" bson:"submittedAt,omitempty"`
	LastActivityAt    time.Time      `json:"last_activity_at" bson:"lastActivityAt"`
	CreatedAt         time.Time      `json:"created_at" bson:"createdAt"`
}

// Key returns the unique slot of the response
func (r *SurveyResponse) Key() ResponseKey {
	return ResponseKey{
		CenterRef:         r.CenterRef,
		SurveyRef:         r.SurveyRef,
		SubmittedBy:       r.SubmittedBy,
		Year:              r.Year,
		Month:             r.Month,
		EvaluationVersion: r.EvaluationVersion,
	}
}

// Period returns the calendar period of the response
func (r *SurveyResponse) Period() Period {
	return Period{Year: r.Year, Month: r.Month}
}

// CanBeModified is true while the response is not in a terminal status
func (r *SurveyResponse) CanBeModified() bool {
	return !r.Status.IsTerminal()
}

// StatusUpdate carries the fields written alongside a status transition
type StatusUpdate struct {
	To           ResponseStatus
	OverallScore *float64
	SubmittedAt  *time.Time
	At           time.Time
}
