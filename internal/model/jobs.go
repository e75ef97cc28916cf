package model

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders jobs in the scheduler queue. Lower value wins.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts the wire representation back to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority: %q", s)
}

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// CollectionType selects which remote operations a job performs.
type CollectionType string

const (
	CollectionProperty     CollectionType = "property"
	CollectionOwnerHistory CollectionType = "owner_history"
	CollectionTaxRecords   CollectionType = "tax_records"
)

// Job represents one scheduled unit of collection work for a subject.
type Job struct {
	ID           uuid.UUID         `json:"id"`
	SubjectKey   string            `json:"subject_key"`
	Priority     Priority          `json:"priority"`
	Type         CollectionType    `json:"type"`
	Params       JobParams         `json:"params,omitempty"`
	ForceRefresh bool              `json:"force_refresh,omitempty"`
	Status       JobStatus         `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Attempts     int               `json:"attempts"`
	Result       *CollectionResult `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewJob creates a pending job with a fresh ID.
func NewJob(subjectKey string, priority Priority, ct CollectionType, params JobParams, forceRefresh bool) *Job {
	return &Job{
		ID:           uuid.New(),
		SubjectKey:   subjectKey,
		Priority:     priority,
		Type:         ct,
		Params:       params,
		ForceRefresh: forceRefresh,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
}

// Fingerprint derives the cache key for this job's remote request.
func (j *Job) Fingerprint() string {
	var q string
	if j.Params != nil {
		q = j.Params.Query().Encode()
	}
	return fmt.Sprintf("%s|%s|%s", j.SubjectKey, j.Type, q)
}

// Clone returns a copy safe to hand to callers while the original keeps
// being mutated under the scheduler's lock.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// CollectionResult is the successful outcome of a job.
type CollectionResult struct {
	JobID      uuid.UUID      `json:"job_id"`
	SubjectKey string         `json:"subject_key"`
	Type       CollectionType `json:"type"`
	Payload    []byte         `json:"payload"`
	FetchedAt  time.Time      `json:"fetched_at"`
	FromCache  bool           `json:"from_cache"`
}

// JobParams is the validated parameter set for one collection type.
type JobParams interface {
	// Validate rejects parameter combinations the remote source cannot serve.
	Validate() error

	// Query renders the parameters as remote request query values. The
	// encoded form also feeds the job fingerprint, so it must be stable.
	Query() url.Values
}

// PropertyParams configures a base parcel-record collection.
type PropertyParams struct {
	County            string `json:"county,omitempty"`
	IncludeAssessment bool   `json:"include_assessment,omitempty"`
}

func (p PropertyParams) Validate() error {
	if len(p.County) > 64 {
		return fmt.Errorf("county name too long: %d chars", len(p.County))
	}
	return nil
}

func (p PropertyParams) Query() url.Values {
	v := url.Values{}
	if p.County != "" {
		v.Set("county", p.County)
	}
	if p.IncludeAssessment {
		v.Set("assessment", "true")
	}
	return v
}

// OwnerHistoryParams configures an ownership-history collection.
type OwnerHistoryParams struct {
	YearsBack int `json:"years_back,omitempty"`
}

func (p OwnerHistoryParams) Validate() error {
	if p.YearsBack < 0 || p.YearsBack > 100 {
		return fmt.Errorf("years_back out of range: %d", p.YearsBack)
	}
	return nil
}

func (p OwnerHistoryParams) Query() url.Values {
	v := url.Values{}
	if p.YearsBack > 0 {
		v.Set("years", fmt.Sprintf("%d", p.YearsBack))
	}
	return v
}

// TaxRecordParams configures a tax-record collection.
type TaxRecordParams struct {
	FromYear int `json:"from_year,omitempty"`
	ToYear   int `json:"to_year,omitempty"`
}

func (p TaxRecordParams) Validate() error {
	if p.FromYear != 0 && p.ToYear != 0 && p.ToYear < p.FromYear {
		return fmt.Errorf("to_year %d precedes from_year %d", p.ToYear, p.FromYear)
	}
	return nil
}

func (p TaxRecordParams) Query() url.Values {
	v := url.Values{}
	if p.FromYear != 0 {
		v.Set("from", fmt.Sprintf("%d", p.FromYear))
	}
	if p.ToYear != 0 {
		v.Set("to", fmt.Sprintf("%d", p.ToYear))
	}
	return v
}
