package model

import "time"

// SubjectRecord is the persisted "current state" document for one subject
// and collection type, upserted on every successful collection.
type SubjectRecord struct {
	SubjectKey  string         `bson:"subject_key" json:"subject_key"`
	Type        CollectionType `bson:"type" json:"type"`
	Payload     []byte         `bson:"payload" json:"payload"`
	JobID       string         `bson:"job_id" json:"job_id"`
	CollectedAt time.Time      `bson:"collected_at" json:"collected_at"`
	UpdatedAt   time.Time      `bson:"updated_at" json:"updated_at"`
}

// HistoryEntry is an append-only audit row referencing a subject record.
type HistoryEntry struct {
	SubjectKey  string         `bson:"subject_key" json:"subject_key"`
	Type        CollectionType `bson:"type" json:"type"`
	JobID       string         `bson:"job_id" json:"job_id"`
	Attempts    int            `bson:"attempts" json:"attempts"`
	PayloadSize int            `bson:"payload_size" json:"payload_size"`
	CollectedAt time.Time      `bson:"collected_at" json:"collected_at"`
}
