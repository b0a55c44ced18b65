package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID          string
	Name        string
	Status      string
	Phase       string
	ClientName  string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Decision is one client-facing choice point tracked through the approval
// lifecycle. Version counts published snapshots; 0 means never published.
type Decision struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	Phase        string
	AssigneeID   string
	AssigneeName string
	Status       string
	Version      int
	CostImpact   float64
	Options      []Option
	PublishedAt  *time.Time
	ApprovedAt   *time.Time
	ApprovedBy   string
	ESigned      bool
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Option struct {
	ID          string
	DecisionID  string
	Title       string
	Description string
	ImageKey    string
	CostDelta   float64
	Recommended bool
	SortOrder   int
}

// DecisionVersion is an immutable snapshot record created at publish time.
// SnapshotRef is the archive commit hash; never edited or reordered.
type DecisionVersion struct {
	ID          string
	DecisionID  string
	Version     int
	SnapshotRef string
	PublishedBy string
	PublishedAt time.Time
}

type AuditLogEntry struct {
	ID         int64
	DecisionID string
	ActorID    string
	ActorName  string
	Action     string
	Detail     string
	CreatedAt  time.Time
}

type DecisionComment struct {
	ID         string
	DecisionID string
	AuthorID   string
	AuthorName string
	Body       string
	ParentID   *string
	CreatedAt  time.Time
}

type RelatedItem struct {
	ID         string
	DecisionID string
	Type       string
	Title      string
	URL        string
	CreatedAt  time.Time
}
