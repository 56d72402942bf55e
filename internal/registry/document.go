// Package registry tracks each document's processing state machine and
// metadata, and owns all access to the metadata store.
package registry

import (
	"errors"
	"time"
)

// Status is a document's position in the ingestion state machine:
// uploaded -> extracting -> chunking -> embedding -> vectorized, with error
// reachable from any non-terminal state.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusExtracting Status = "extracting"
	StatusChunking   Status = "chunking"
	StatusEmbedding  Status = "embedding"
	StatusVectorized Status = "vectorized"
	StatusError      Status = "error"
)

// Terminal reports whether the status ends an ingestion attempt. A fresh
// upload of the same filename restarts the machine from uploaded.
func (s Status) Terminal() bool {
	return s == StatusVectorized || s == StatusError
}

var (
	// ErrNotFound indicates no document row exists for the filename.
	ErrNotFound = errors.New("document not found")

	// ErrConcurrentIngestion rejects a second ingestion request for a
	// filename whose previous attempt is still in flight. Policy violation,
	// not retried automatically.
	ErrConcurrentIngestion = errors.New("ingestion already in progress for this document")

	// ErrInvalidTransition indicates a state change the machine does not
	// permit, e.g. advancing a terminal document without restarting it.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Document is one metadata row, keyed by filename.
type Document struct {
	Filename     string     `bson:"filename" json:"filename"`
	Size         int64      `bson:"size" json:"size"`
	UploadedAt   time.Time  `bson:"uploaded_at" json:"uploaded_at"`
	Status       Status     `bson:"status" json:"status"`
	FailedStage  string     `bson:"failed_stage,omitempty" json:"failed_stage,omitempty"`
	ErrorMessage string     `bson:"error_message,omitempty" json:"error_message,omitempty"`
	VectorCount  int        `bson:"vector_count" json:"vector_count"`
	PageCount    int        `bson:"page_count" json:"page_count"`
	TextLength   int        `bson:"text_length" json:"text_length"`
	VectorizedAt *time.Time `bson:"vectorized_at,omitempty" json:"vectorized_at,omitempty"`
}

// Stats aggregates the document collection for the stats endpoint.
type Stats struct {
	TotalDocuments int     `json:"total_documents"`
	Uploaded       int     `json:"uploaded"`
	Processing     int     `json:"processing"`
	Vectorized     int     `json:"vectorized"`
	Error          int     `json:"error"`
	TotalSizeMB    float64 `json:"total_size_mb"`
}

// transitions lists the permitted forward moves. Error is handled separately:
// it is reachable from any non-terminal state.
var transitions = map[Status]Status{
	StatusUploaded:   StatusExtracting,
	StatusExtracting: StatusChunking,
	StatusChunking:   StatusEmbedding,
	StatusEmbedding:  StatusVectorized,
}
