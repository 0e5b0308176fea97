package lifecycle

import (
	"errors"
	"time"
)

var (
	ErrDeletionNotFound = errors.New("deletion request not found")
	ErrDeletionBadState = errors.New("deletion request is not awaiting verification")
	ErrExportNotFound   = errors.New("export request not found")
)

const (
	DeletionPendingVerification = "pending_verification"
	DeletionCompleted           = "completed"

	ExportInProgress = "in_progress"
	ExportCompleted  = "completed"
)

// exportDomains are the data categories bundled into a portability export,
// in the order they appear in the artifact.
var exportDomains = []string{"profile", "preferences", "activity", "recipes", "consents"}

type DeletionRequest struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Email       string     `json:"email"`
	Reason      string     `json:"reason,omitempty"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ExportID    string     `json:"exportId,omitempty"`
}

type ExportRequest struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requestedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Domains     []string   `json:"domains,omitempty"`
	Encrypted   bool       `json:"encrypted"`
}
