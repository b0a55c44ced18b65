package app

import (
	"context"

	"chooseandbuild/api/internal/export"
)

// exportStore adapts the data store to the shape the export renderer wants:
// flattened structs with display names already resolved.
type exportStore struct {
	store dataStore
}

func (e *exportStore) GetDecision(ctx context.Context, id string) (export.DecisionInfo, error) {
	decision, err := e.store.GetDecision(ctx, id)
	if err != nil {
		return export.DecisionInfo{}, err
	}

	info := export.DecisionInfo{
		ID:          decision.ID,
		ProjectID:   decision.ProjectID,
		Title:       decision.Title,
		Description: decision.Description,
		Phase:       decision.Phase,
		Status:      decision.Status,
		Version:     decision.Version,
		CostImpact:  decision.CostImpact,
		Assignee:    decision.AssigneeName,
		ApprovedBy:  decision.ApprovedBy,
		UpdatedAt:   decision.UpdatedAt,
	}
	for _, option := range decision.Options {
		info.Options = append(info.Options, export.OptionInfo{
			Title:       option.Title,
			Description: option.Description,
			CostDelta:   option.CostDelta,
			Recommended: option.Recommended,
		})
	}
	return info, nil
}

func (e *exportStore) GetProject(ctx context.Context, id string) (export.ProjectInfo, error) {
	if id == "" {
		return export.ProjectInfo{}, nil
	}
	project, err := e.store.GetProject(ctx, id)
	if err != nil {
		return export.ProjectInfo{}, err
	}
	return export.ProjectInfo{ID: project.ID, Name: project.Name}, nil
}

func (e *exportStore) ListComments(ctx context.Context, decisionID string) ([]export.CommentInfo, error) {
	comments, err := e.store.ListComments(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.CommentInfo, 0, len(comments))
	for _, comment := range comments {
		infos = append(infos, export.CommentInfo{
			Author:    comment.AuthorName,
			Body:      comment.Body,
			IsReply:   comment.ParentID != nil,
			CreatedAt: comment.CreatedAt,
		})
	}
	return infos, nil
}

func (e *exportStore) ListAuditLog(ctx context.Context, decisionID string) ([]export.AuditInfo, error) {
	entries, err := e.store.ListAuditLog(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	infos := make([]export.AuditInfo, 0, len(entries))
	for _, entry := range entries {
		action := entry.Action
		if entry.Detail != "" {
			action = action + ": " + entry.Detail
		}
		infos = append(infos, export.AuditInfo{
			Actor:     entry.ActorName,
			Action:    action,
			CreatedAt: entry.CreatedAt,
		})
	}
	return infos, nil
}
