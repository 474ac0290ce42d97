package models

import (
	"time"
)

// JobStatus represents the client-side lifecycle state of a submission
type JobStatus string

const (
	StatusIdle        JobStatus = "idle"
	StatusUploading   JobStatus = "uploading"
	StatusProcessing  JobStatus = "processing"
	StatusChecking    JobStatus = "checking"
	StatusSuccess     JobStatus = "success"
	StatusFail        JobStatus = "fail"
	StatusDownloading JobStatus = "downloading"
)

// RemoteStatus is the job status reported by the subtitle service
type RemoteStatus string

const (
	RemoteStatusProcessing RemoteStatus = "PROCESSING"
	RemoteStatusCompleted  RemoteStatus = "COMPLETED"
	RemoteStatusFailed     RemoteStatus = "FAILED"
)

// SubmitResponse is the body returned by POST /generate-subtitles/
type SubmitResponse struct {
	Message string `json:"message" yaml:"message"`
	JobID   string `json:"job_id" yaml:"job_id"`
}

// StatusResponse is the body returned by GET /job-status/{job_id}
type StatusResponse struct {
	JobID       string       `json:"job_id" yaml:"job_id"`
	Status      RemoteStatus `json:"status" yaml:"status"`
	DownloadURL string       `json:"download_url,omitempty" yaml:"download_url,omitempty"`
}

// Completed reports whether the service finished the job and published a result location
func (r *StatusResponse) Completed() bool {
	return r.Status.Normalize() == RemoteStatusCompleted && r.DownloadURL != ""
}

// Failed reports whether the service gave up on the job
func (r *StatusResponse) Failed() bool {
	return r.Status.Normalize() == RemoteStatusFailed
}

// JobRecord is one entry of the local job history
type JobRecord struct {
	JobID       string     `json:"job_id" yaml:"job_id"`
	InputKind   InputKind  `json:"input_kind" yaml:"input_kind"`
	Input       string     `json:"input" yaml:"input"`
	Status      JobStatus  `json:"status" yaml:"status"`
	DownloadURL string     `json:"download_url,omitempty" yaml:"download_url,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}
