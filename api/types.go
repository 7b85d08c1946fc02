package api

import (
	"fmt"
	"time"

	"github.com/fleetcore/device-provisioning-backend/interfaces"
)

// CredentialsResponse is the payload returned for a successful credential
// issuance. The derived key appears here exactly once and is never stored
// server-side.
type CredentialsResponse struct {
	DeviceID   interfaces.DeviceID `json:"device_id"`
	GroupID    interfaces.GroupID  `json:"group_id"`
	DerivedKey string              `json:"derived_key"`
	IssuedAt   time.Time           `json:"issued_at"`
}

// ImportReport is the row-aligned result of one bulk import call, plus
// per-outcome totals for quick operator triage.
type ImportReport struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	Lines []interfaces.ImportResultLine `json:"lines"`
}

// NewImportReport assembles a report from the pipeline's result lines.
func NewImportReport(lines []interfaces.ImportResultLine) *ImportReport {
	report := &ImportReport{Total: len(lines), Lines: lines}
	if report.Lines == nil {
		report.Lines = []interfaces.ImportResultLine{}
	}
	for _, line := range lines {
		switch line.Outcome {
		case interfaces.OutcomeCreated:
			report.Created++
		case interfaces.OutcomeUpdated:
			report.Updated++
		case interfaces.OutcomeSkipped:
			report.Skipped++
		case interfaces.OutcomeFailed:
			report.Failed++
		}
	}
	return report
}

// RequestError carries the HTTP status an API call failed with alongside
// the underlying error.
type RequestError struct {
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed with status %d: %v", e.StatusCode, e.Err)
}

// Unwrap supports errors.Is and errors.As on the wrapped error.
func (e *RequestError) Unwrap() error {
	return e.Err
}
