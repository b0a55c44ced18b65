package app

import (
	"sort"
	"strings"
	"time"

	"chooseandbuild/api/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ListFilter is the declarative query shape the dashboard sends. Malformed
// numeric or date parameters are dropped at the HTTP layer, which is why the
// optional fields are pointers rather than sentinels.
type ListFilter struct {
	ProjectID  string
	Status     string
	Phase      string
	AssigneeID string
	CostMin    *float64
	CostMax    *float64
	FromDate   *time.Time
	ToDate     *time.Time
	Search     string
	SortBy     string
	SortOrder  string
	Page       int
	Limit      int
}

type ListPage struct {
	Items []store.Decision `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Limit int              `json:"limit"`
}

// queryDecisions filters, sorts, and paginates in memory. It is a pure
// function of its inputs: it never mutates the passed slice and is safe to
// call concurrently over the same snapshot.
func queryDecisions(all []store.Decision, filter ListFilter) ListPage {
	matched := make([]store.Decision, 0, len(all))
	for _, item := range all {
		if matchesFilter(item, filter) {
			matched = append(matched, item)
		}
	}

	sortDecisions(matched, filter.SortBy, filter.SortOrder)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	total := len(matched)
	start := (page - 1) * limit
	if start >= total {
		return ListPage{Items: []store.Decision{}, Total: total, Page: page, Limit: limit}
	}
	end := start + limit
	if end > total {
		end = total
	}
	return ListPage{Items: matched[start:end], Total: total, Page: page, Limit: limit}
}

func matchesFilter(item store.Decision, filter ListFilter) bool {
	if filter.Status != "" && item.Status != filter.Status {
		return false
	}
	if filter.Phase != "" && item.Phase != filter.Phase {
		return false
	}
	if filter.AssigneeID != "" && item.AssigneeID != filter.AssigneeID {
		return false
	}
	if filter.CostMin != nil && item.CostImpact < *filter.CostMin {
		return false
	}
	if filter.CostMax != nil && item.CostImpact > *filter.CostMax {
		return false
	}
	if filter.FromDate != nil && item.UpdatedAt.Before(*filter.FromDate) {
		return false
	}
	if filter.ToDate != nil && item.UpdatedAt.After(*filter.ToDate) {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		title := strings.ToLower(item.Title)
		description := strings.ToLower(item.Description)
		if !strings.Contains(title, needle) && !(description != "" && strings.Contains(description, needle)) {
			return false
		}
	}
	return true
}

// sortDecisions orders in place. The sort is stable so that equal keys keep
// their input order, which keeps paginated output deterministic.
func sortDecisions(items []store.Decision, sortBy, sortOrder string) {
	descending := sortOrder != "asc"
	if sortOrder == "" {
		descending = true
	}

	var less func(a, b store.Decision) bool
	switch sortBy {
	case "createdAt":
		less = func(a, b store.Decision) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "title":
		less = func(a, b store.Decision) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case "phase":
		less = func(a, b store.Decision) bool { return strings.ToLower(a.Phase) < strings.ToLower(b.Phase) }
	case "costImpact":
		less = func(a, b store.Decision) bool { return a.CostImpact < b.CostImpact }
	default: // updatedAt
		less = func(a, b store.Decision) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	}

	sort.SliceStable(items, func(i, j int) bool {
		if descending {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}
