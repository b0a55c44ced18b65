// Package export provides decision export functionality for PDF and DOCX formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	DecisionID      string
	Format          Format
	IncludeComments bool
	IncludeAudit    bool
}

// DecisionInfo holds the decision data rendered into an export
type DecisionInfo struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Phase       string
	Status      string
	Version     int
	CostImpact  float64
	Assignee    string
	ApprovedBy  string
	UpdatedAt   time.Time
	Options     []OptionInfo
}

// OptionInfo holds one alternative within a decision
type OptionInfo struct {
	Title       string
	Description string
	CostDelta   float64
	Recommended bool
}

// ProjectInfo holds project metadata
type ProjectInfo struct {
	ID   string
	Name string
}

// CommentInfo holds a question or reply on the decision
type CommentInfo struct {
	Author    string
	Body      string
	IsReply   bool
	CreatedAt time.Time
}

// AuditInfo holds one entry of the decision's history
type AuditInfo struct {
	Actor     string
	Action    string
	CreatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
