package models

import "time"

// SyncStatus is the terminal state of one ingestion run
type SyncStatus string

const (
	SyncStatusCompleted   SyncStatus = "completed"    // batch committed (possibly zero inserts)
	SyncStatusFetchFailed SyncStatus = "fetch_failed" // remote unavailable, nothing attempted
	SyncStatusRolledBack  SyncStatus = "rolled_back"  // store error, batch discarded
)

// RecordStatus is what happened to one fetched record
type RecordStatus string

const (
	RecordStatusInserted  RecordStatus = "inserted"
	RecordStatusDuplicate RecordStatus = "duplicate"
	RecordStatusRejected  RecordStatus = "rejected"
)

// LabelSource tells whether a label came from the classifier or the fallback
type LabelSource string

const (
	LabelSourcePredicted LabelSource = "predicted"
	LabelSourceDefaulted LabelSource = "defaulted"
)

// RecordOutcome is the tagged per-record result of a sync run
type RecordOutcome struct {
	ID          string       `json:"id"`
	Status      RecordStatus `json:"status"`
	Label       bool         `json:"label"`
	LabelSource LabelSource  `json:"label_source,omitempty"`
	Probability float64      `json:"probability,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// SyncSummary reports one ingestion run
type SyncSummary struct {
	RunID      string          `json:"run_id"`
	Status     SyncStatus      `json:"status"`
	Fetched    int             `json:"fetched"`
	Inserted   int             `json:"inserted"`
	Duplicates int             `json:"duplicates"`
	Rejected   int             `json:"rejected"`
	Defaulted  int             `json:"defaulted"`
	Error      string          `json:"error,omitempty"`
	Outcomes   []RecordOutcome `json:"outcomes"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Succeeded reports whether the run ended without discarding work
func (s *SyncSummary) Succeeded() bool {
	return s.Status == SyncStatusCompleted
}
