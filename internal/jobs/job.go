package jobs

import (
	"github.com/dgnsrekt/readaloud/internal/timing"
)

// Status is the lifecycle state of a synthesis job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known reports whether s is one of the four lifecycle states.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Request describes text to render.
type Request struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId,omitempty"`
	Locale  string `json:"language,omitempty"`
	Style   string `json:"style,omitempty"`
	FileID  string `json:"fileId,omitempty"`
}

// Job is the server's view of a submitted job.
type Job struct {
	ID         string             `json:"id"`
	Status     Status             `json:"status"`
	AudioURL   string             `json:"audioUrl,omitempty"`
	Timepoints []timing.Timepoint `json:"timepoints,omitempty"`
	ErrorMsg   string             `json:"errorMsg,omitempty"`
}

// Voice is a voice offered by the server.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Gender      string `json:"gender"`
	Description string `json:"description"`
}

// Generated is the result of a synchronous render.
type Generated struct {
	AudioURL   string             `json:"audioUrl"`
	Filename   string             `json:"filename"`
	MimeType   string             `json:"mimeType"`
	Language   string             `json:"language"`
	Style      string             `json:"style"`
	Message    string             `json:"message"`
	Timepoints []timing.Timepoint `json:"timepoints,omitempty"`
}

// Result is the outcome of polling one pending entry.
type Result struct {
	JobID  string
	Status Status
	Path   string // cached audio, set when the job completed
	Err    error
}
