package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// Role identifies which slot of the fallback policy a provider occupies.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Credential is the long-lived key pair used to derive provider tokens.
type Credential struct {
	AccessKeyID string
	SecretKey   string
}

// SignedToken is a short-lived bearer credential derived from a Credential.
type SignedToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the token is still usable at now with at least
// margin of validity left.
func (t SignedToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// MIME types accepted as try-on input.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// Upload is a raw image received from the caller.
type Upload struct {
	Data     []byte
	MIMEType string
	Filename string
}

// PreparedImage is a validated image in the transport encoding providers expect.
type PreparedImage struct {
	Data         []byte
	Encoded      string
	MIMEType     string
	OriginalSize int
	Width        int
	Height       int
	Reencodes    int
}

// DataURL renders the image as an inline data URL.
func (p PreparedImage) DataURL() string {
	encoded := p.Encoded
	if encoded == "" && len(p.Data) > 0 {
		encoded = base64.StdEncoding.EncodeToString(p.Data)
	}
	return "data:" + p.MIMEType + ";base64," + encoded
}

// JobRequest is the immutable payload of one provider submission.
type JobRequest struct {
	PersonImage  PreparedImage
	GarmentImage PreparedImage
	ModelID      string
	Parameters   map[string]any
}

// JobHandle correlates status checks with a submitted job.
type JobHandle struct {
	JobID       string
	SubmittedAt time.Time
	Provider    string
	Role        Role
}

// JobStatus enumerates the lifecycle of a remote job.
type JobStatus string

const (
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Advance returns the next local state given a status reported by the
// provider. Transitions only move forward; any non-terminal report after
// submission is treated as processing.
func (s JobStatus) Advance(reported JobStatus) JobStatus {
	if s.Terminal() {
		return s
	}
	switch reported {
	case JobStatusSucceeded, JobStatusFailed:
		return reported
	default:
		return JobStatusProcessing
	}
}

// ParseJobStatus normalizes provider vocabulary into a JobStatus.
func ParseJobStatus(raw string) JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "submitted", "queued", "pending":
		return JobStatusSubmitted
	case "succeed", "succeeded", "success", "completed", "complete":
		return JobStatusSucceeded
	case "failed", "failure", "error":
		return JobStatusFailed
	default:
		return JobStatusProcessing
	}
}

// StatusReport is what a single status check observed.
type StatusReport struct {
	Status          JobStatus
	ResultReference string
	Reason          string
}

// JobResult is produced once polling observes a terminal state.
type JobResult struct {
	Handle          JobHandle
	Status          JobStatus
	ResultReference string
	Reason          string
	Checks          int
}

// Deliverable is the final image handed back to the caller.
type Deliverable struct {
	EncodedImage string
	Data         []byte
	MIMEType     string
	SourceURL    string
	Provider     string
	JobID        string
}
