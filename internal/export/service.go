package export

import (
	"context"
	"fmt"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDecision(ctx context.Context, id string) (DecisionInfo, error)
	GetProject(ctx context.Context, id string) (ProjectInfo, error)
	ListComments(ctx context.Context, decisionID string) ([]CommentInfo, error)
	ListAuditLog(ctx context.Context, decisionID string) ([]AuditInfo, error)
}

// Service provides decision export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	decision, err := s.store.GetDecision(ctx, req.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}

	project, err := s.store.GetProject(ctx, decision.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	data := TemplateData{
		Decision:    decision,
		ProjectName: project.Name,
	}

	if req.IncludeComments {
		comments, err := s.store.ListComments(ctx, req.DecisionID)
		if err != nil {
			return nil, fmt.Errorf("list comments: %w", err)
		}
		data.Comments = comments
	}

	if req.IncludeAudit {
		entries, err := s.store.ListAuditLog(ctx, req.DecisionID)
		if err != nil {
			return nil, fmt.Errorf("list audit log: %w", err)
		}
		data.Audit = entries
	}

	html, err := RenderDecisionHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, decision.Title)
	case FormatDOCX:
		return exportDOCX(html, decision.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
