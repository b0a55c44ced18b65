package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"chooseandbuild/api/internal/auth"
	"chooseandbuild/api/internal/authpw"
	"chooseandbuild/api/internal/config"
	"chooseandbuild/api/internal/email"
	"chooseandbuild/api/internal/export"
	"chooseandbuild/api/internal/rbac"
	"chooseandbuild/api/internal/search"
	"chooseandbuild/api/internal/snapshot"
	"chooseandbuild/api/internal/store"
	"chooseandbuild/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type SignUpInput struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type OptionInput struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ImageKey    string  `json:"imageKey"`
	CostDelta   float64 `json:"costDelta"`
	Recommended bool    `json:"recommended"`
}

type CreateDecisionInput struct {
	ProjectID   string        `json:"projectId"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Phase       string        `json:"phase"`
	AssigneeID  string        `json:"assigneeId"`
	Options     []OptionInput `json:"options"`
}

type UpdateDecisionInput struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Phase       string        `json:"phase"`
	AssigneeID  string        `json:"assigneeId"`
	Options     []OptionInput `json:"options"`
}

type ApproveInput struct {
	Comment string `json:"comment"`
	ESign   bool   `json:"eSign"`
}

type RequestChangeInput struct {
	Comment string `json:"comment"`
}

type CommentInput struct {
	Body     string `json:"body"`
	ParentID string `json:"parentId"`
}

type RelatedItemInput struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Phase       string `json:"phase"`
	ClientName  string `json:"clientName"`
	Description string `json:"description"`
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	ListUsersByRole(context.Context, string) ([]store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error
	GetDecision(context.Context, string) (store.Decision, error)
	ListDecisions(context.Context, string) ([]store.Decision, error)
	InsertDecision(context.Context, store.Decision, string, string) error
	UpdateDecisionContent(context.Context, store.Decision, string, string) (bool, error)
	TransitionApprove(context.Context, string, string, string, string, bool) (bool, error)
	TransitionRequestChange(context.Context, string, string, string, string) (bool, error)
	TransitionPublish(context.Context, store.DecisionVersion, string, string, int) (bool, error)
	SoftDeleteDecision(context.Context, string, string, string) (bool, error)
	ListAuditLog(context.Context, string) ([]store.AuditLogEntry, error)
	ListVersions(context.Context, string) ([]store.DecisionVersion, error)
	GetVersion(context.Context, string, int) (store.DecisionVersion, error)
	InsertComment(context.Context, store.DecisionComment) error
	GetComment(context.Context, string, string) (store.DecisionComment, error)
	ListComments(context.Context, string) ([]store.DecisionComment, error)
	InsertRelatedItem(context.Context, store.RelatedItem) error
	ListRelatedItems(context.Context, string) ([]store.RelatedItem, error)
	SummaryCounts(context.Context, string) (int, int, int, error)
	Ping(ctx context.Context) error
}

// sessionStore is satisfied by both the Redis store and the Postgres store,
// so refresh sessions survive with or without a Redis deployment.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type archiveService interface {
	EnsureDecisionRepo(string, snapshot.Content, string) error
	CommitVersion(string, snapshot.Content, string, int) (string, error)
	ContentAt(string, string) (snapshot.Content, error)
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexDecision(search.DecisionRecord)
	IndexComment(search.CommentRecord)
	DeleteDecision(string)
}

type accountService interface {
	SignUp(context.Context, authpw.SignUpRequest) (*authpw.SignUpResponse, error)
	SignIn(context.Context, authpw.SignInRequest) (*authpw.SignInResponse, error)
	VerifyEmail(context.Context, string) error
	RequestPasswordReset(context.Context, string) (string, error)
	ResetPassword(context.Context, authpw.ResetPasswordRequest) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendDecisionPublishedEmail(to, userName string, data email.DecisionEventData) error
	SendDecisionApprovedEmail(to, userName string, data email.DecisionEventData) error
	SendChangesRequestedEmail(to, userName string, data email.DecisionEventData) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	archive  archiveService
	searcher searchIndex
	accounts accountService
	mail     mailer
	exports  *export.Service

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, archive *snapshot.Service, searcher *search.Service, mail *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		archive:  archive,
		searcher: searcher,
		accounts: authpw.NewService(dataStore),
		mail:     mail,
		exports:  export.NewService(&exportStore{store: dataStore}),
		locks:    make(map[string]*sync.Mutex),
	}
}

// decisionLock serializes state transitions for one decision. The SQL guards
// in the store still enforce correctness on their own; the lock keeps losing
// writers from doing snapshot work that the database would then reject.
func (s *Service) decisionLock(decisionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[decisionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[decisionID] = mu
	}
	return mu
}

func (s *Service) SignUp(ctx context.Context, input SignUpInput) (map[string]any, error) {
	resp, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       strings.TrimSpace(input.Email),
		Password:    input.Password,
		DisplayName: strings.TrimSpace(input.DisplayName),
		Role:        input.Role,
	})
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	if resp.RequiresEmailVerify && resp.VerificationToken != "" {
		verifyURL := fmt.Sprintf("%s/verify-email?token=%s", s.cfg.CORSOrigin, resp.VerificationToken)
		s.sendAsync(func(m mailer) error {
			return m.SendVerificationEmail(input.Email, input.DisplayName, verifyURL)
		})
	}

	payload := map[string]any{
		"userId":              resp.UserID,
		"requiresEmailVerify": resp.RequiresEmailVerify,
	}
	// Dev bypass: without SMTP there is no way to receive the verification
	// link, so hand the token back directly.
	if !s.SMTPConfigured() {
		payload["devVerificationToken"] = resp.VerificationToken
	}
	return payload, nil
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Login(ctx context.Context, loginEmail, password string) (Session, error) {
	resp, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: strings.TrimSpace(loginEmail), Password: password})
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password", nil)
	}
	if resp.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "FORBIDDEN", "email address is not verified", nil)
	}
	return s.issueSession(ctx, resp.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if err := s.accounts.VerifyEmail(ctx, token); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

// RequestPasswordReset never discloses whether the address exists. The
// returned token is non-empty only for known accounts and is surfaced to the
// caller only when SMTP is off (dev bypass).
func (s *Service) RequestPasswordReset(ctx context.Context, resetEmail string) (string, error) {
	token, err := s.accounts.RequestPasswordReset(ctx, strings.TrimSpace(resetEmail))
	if err != nil {
		return "", err
	}
	if token != "" {
		resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.cfg.CORSOrigin, token)
		addr := resetEmail
		s.sendAsync(func(m mailer) error {
			return m.SendPasswordResetEmail(addr, "", resetURL)
		})
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := s.accounts.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		total, pending, approved, err := s.store.SummaryCounts(ctx, project.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, map[string]any{
			"id":               project.ID,
			"name":             project.Name,
			"status":           project.Status,
			"phase":            project.Phase,
			"clientName":       project.ClientName,
			"totalDecisions":   total,
			"pendingApprovals": pending,
			"approved":         approved,
		})
	}
	return items, nil
}

func (s *Service) GetProjectSummary(ctx context.Context, projectID string) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	total, pending, approved, err := s.store.SummaryCounts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project":          project,
		"totalDecisions":   total,
		"pendingApprovals": pending,
		"approved":         approved,
	}, nil
}

func (s *Service) CreateProject(ctx context.Context, session Session, input CreateProjectInput) (store.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Project{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "project name is required", nil)
	}
	project := store.Project{
		ID:          util.ShortID("prj"),
		Name:        name,
		Status:      firstNonBlank(input.Status, "active"),
		Phase:       firstNonBlank(input.Phase, "concept"),
		ClientName:  strings.TrimSpace(input.ClientName),
		Description: strings.TrimSpace(input.Description),
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return store.Project{}, err
	}
	return s.store.GetProject(ctx, project.ID)
}

func (s *Service) ListDecisions(ctx context.Context, filter ListFilter) (ListPage, error) {
	all, err := s.store.ListDecisions(ctx, filter.ProjectID)
	if err != nil {
		return ListPage{}, err
	}
	return queryDecisions(all, filter), nil
}

func (s *Service) GetDecision(ctx context.Context, decisionID string) (store.Decision, error) {
	return s.store.GetDecision(ctx, decisionID)
}

func (s *Service) CreateDecision(ctx context.Context, session Session, input CreateDecisionInput) (store.Decision, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Decision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "decision title is required", nil)
	}
	projectID := strings.TrimSpace(input.ProjectID)
	if projectID == "" {
		return store.Decision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Decision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "project does not exist", map[string]any{"projectId": projectID})
		}
		return store.Decision{}, err
	}

	assigneeID, assigneeName, err := s.resolveAssignee(ctx, input.AssigneeID)
	if err != nil {
		return store.Decision{}, err
	}

	decision := store.Decision{
		ID:           util.ShortID("dec"),
		ProjectID:    projectID,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Phase:        strings.TrimSpace(input.Phase),
		AssigneeID:   assigneeID,
		AssigneeName: assigneeName,
		Status:       "draft",
		Version:      0,
		Options:      buildOptions("", input.Options),
	}
	decision.CostImpact = costImpactOf(decision.Options)
	for i := range decision.Options {
		decision.Options[i].DecisionID = decision.ID
	}

	if err := s.store.InsertDecision(ctx, decision, session.UserID, session.UserName); err != nil {
		return store.Decision{}, err
	}
	if err := s.archive.EnsureDecisionRepo(decision.ID, contentOf(decision), session.UserName); err != nil {
		return store.Decision{}, err
	}

	created, err := s.store.GetDecision(ctx, decision.ID)
	if err != nil {
		return store.Decision{}, err
	}
	s.indexDecision(created)
	return created, nil
}

func (s *Service) UpdateDecision(ctx context.Context, session Session, decisionID string, input UpdateDecisionInput) (store.Decision, error) {
	mu := s.decisionLock(decisionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Decision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "decision title is required", nil)
	}

	assigneeID, assigneeName, err := s.resolveAssignee(ctx, input.AssigneeID)
	if err != nil {
		return store.Decision{}, err
	}

	updated := current
	updated.Title = title
	updated.Description = strings.TrimSpace(input.Description)
	updated.Phase = strings.TrimSpace(input.Phase)
	updated.AssigneeID = assigneeID
	updated.AssigneeName = assigneeName
	updated.Options = buildOptions(decisionID, input.Options)
	updated.CostImpact = costImpactOf(updated.Options)

	ok, err := s.store.UpdateDecisionContent(ctx, updated, session.UserID, session.UserName)
	if err != nil {
		return store.Decision{}, err
	}
	if !ok {
		return store.Decision{}, domainError(http.StatusConflict, "INVALID_TRANSITION", "decision content can only be edited in draft or changes_requested status", map[string]any{"status": current.Status})
	}

	fresh, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	s.indexDecision(fresh)
	return fresh, nil
}

func (s *Service) PublishVersion(ctx context.Context, session Session, decisionID string) (store.Decision, error) {
	mu := s.decisionLock(decisionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	if current.Status != "draft" && current.Status != "changes_requested" {
		return store.Decision{}, domainError(http.StatusConflict, "INVALID_TRANSITION", "only a draft or changes_requested decision can be published", map[string]any{"from": current.Status, "to": "pending"})
	}
	if len(current.Options) == 0 {
		return store.Decision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one option is required before publishing", nil)
	}

	nextVersion := current.Version + 1
	ref, err := s.archive.CommitVersion(decisionID, contentOf(current), session.UserName, nextVersion)
	if err != nil {
		return store.Decision{}, err
	}

	version := store.DecisionVersion{
		ID:          util.NewID("ver"),
		DecisionID:  decisionID,
		Version:     nextVersion,
		SnapshotRef: ref,
		PublishedBy: session.UserName,
	}
	ok, err := s.store.TransitionPublish(ctx, version, session.UserID, session.UserName, current.Version)
	if err != nil {
		return store.Decision{}, err
	}
	if !ok {
		// The snapshot commit stays behind as an unreferenced tag; the next
		// successful publish gets its own commit and version number.
		return store.Decision{}, domainError(http.StatusConflict, "CONFLICT", "decision was modified concurrently, retry the publish", nil)
	}

	fresh, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	s.indexDecision(fresh)
	s.notifyPublished(fresh, nextVersion)
	return fresh, nil
}

func (s *Service) Approve(ctx context.Context, session Session, decisionID string, input ApproveInput) (store.Decision, error) {
	mu := s.decisionLock(decisionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	if current.Status != "pending" {
		return store.Decision{}, domainError(http.StatusConflict, "INVALID_TRANSITION", "only a pending decision can be approved", map[string]any{"from": current.Status, "to": "approved"})
	}

	comment := strings.TrimSpace(input.Comment)
	ok, err := s.store.TransitionApprove(ctx, decisionID, session.UserID, session.UserName, comment, input.ESign)
	if err != nil {
		return store.Decision{}, err
	}
	if !ok {
		return store.Decision{}, domainError(http.StatusConflict, "CONFLICT", "decision was modified concurrently, retry the approval", nil)
	}

	fresh, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	s.indexDecision(fresh)
	s.notifyOutcome(fresh, comment, true)
	return fresh, nil
}

func (s *Service) RequestChange(ctx context.Context, session Session, decisionID string, input RequestChangeInput) (store.Decision, error) {
	comment := strings.TrimSpace(input.Comment)
	if comment == "" {
		return store.Decision{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a comment explaining the requested change is required", nil)
	}

	mu := s.decisionLock(decisionID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	if current.Status != "pending" {
		return store.Decision{}, domainError(http.StatusConflict, "INVALID_TRANSITION", "changes can only be requested on a pending decision", map[string]any{"from": current.Status, "to": "changes_requested"})
	}

	ok, err := s.store.TransitionRequestChange(ctx, decisionID, session.UserID, session.UserName, comment)
	if err != nil {
		return store.Decision{}, err
	}
	if !ok {
		return store.Decision{}, domainError(http.StatusConflict, "CONFLICT", "decision was modified concurrently, retry the request", nil)
	}

	fresh, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.Decision{}, err
	}
	s.indexDecision(fresh)
	s.notifyOutcome(fresh, comment, false)
	return fresh, nil
}

// DeleteDecision is idempotent: removing an already removed (or unknown)
// decision reports success so retried requests never surface errors.
func (s *Service) DeleteDecision(ctx context.Context, session Session, decisionID string) error {
	mu := s.decisionLock(decisionID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.store.SoftDeleteDecision(ctx, decisionID, session.UserID, session.UserName); err != nil {
		return err
	}
	if s.searcher != nil {
		s.searcher.DeleteDecision(decisionID)
	}
	return nil
}

func (s *Service) AskQuestion(ctx context.Context, session Session, decisionID string, input CommentInput) (store.DecisionComment, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.DecisionComment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "comment body is required", nil)
	}

	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return store.DecisionComment{}, err
	}

	var parentID *string
	if id := strings.TrimSpace(input.ParentID); id != "" {
		parent, err := s.store.GetComment(ctx, decisionID, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.DecisionComment{}, domainError(http.StatusUnprocessableEntity, "INVALID_PARENT", "parent comment does not exist on this decision", map[string]any{"parentId": id})
			}
			return store.DecisionComment{}, err
		}
		if parent.ParentID != nil {
			return store.DecisionComment{}, domainError(http.StatusUnprocessableEntity, "INVALID_PARENT", "replies cannot be nested more than one level", map[string]any{"parentId": id})
		}
		parentID = &parent.ID
	}

	comment := store.DecisionComment{
		ID:         util.NewID("cmt"),
		DecisionID: decisionID,
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Body:       body,
		ParentID:   parentID,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.DecisionComment{}, err
	}

	saved, err := s.store.GetComment(ctx, decisionID, comment.ID)
	if err != nil {
		return store.DecisionComment{}, err
	}
	if s.searcher != nil {
		s.searcher.IndexComment(search.CommentRecord{
			ID:         saved.ID,
			Body:       saved.Body,
			AuthorName: saved.AuthorName,
			DecisionID: decisionID,
			ProjectID:  decision.ProjectID,
		})
	}
	return saved, nil
}

func (s *Service) ListComments(ctx context.Context, decisionID string) ([]store.DecisionComment, error) {
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListComments(ctx, decisionID)
}

func (s *Service) ListAuditLog(ctx context.Context, decisionID string) ([]store.AuditLogEntry, error) {
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListAuditLog(ctx, decisionID)
}

func (s *Service) ListVersions(ctx context.Context, decisionID string) ([]store.DecisionVersion, error) {
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, decisionID)
}

// GetVersionContent returns the immutable snapshot committed at publish
// time, not the decision's current row.
func (s *Service) GetVersionContent(ctx context.Context, decisionID string, versionNumber int) (store.DecisionVersion, snapshot.Content, error) {
	version, err := s.store.GetVersion(ctx, decisionID, versionNumber)
	if err != nil {
		return store.DecisionVersion{}, snapshot.Content{}, err
	}
	content, err := s.archive.ContentAt(decisionID, version.SnapshotRef)
	if err != nil {
		return store.DecisionVersion{}, snapshot.Content{}, err
	}
	return version, content, nil
}

func (s *Service) AddRelatedItem(ctx context.Context, session Session, decisionID string, input RelatedItemInput) (store.RelatedItem, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.RelatedItem{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "related item title is required", nil)
	}
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return store.RelatedItem{}, err
	}

	item := store.RelatedItem{
		ID:         util.NewID("rel"),
		DecisionID: decisionID,
		Type:       firstNonBlank(strings.TrimSpace(input.Type), "link"),
		Title:      title,
		URL:        strings.TrimSpace(input.URL),
	}
	if err := s.store.InsertRelatedItem(ctx, item); err != nil {
		return store.RelatedItem{}, err
	}
	return item, nil
}

func (s *Service) ListRelatedItems(ctx context.Context, decisionID string) ([]store.RelatedItem, error) {
	if _, err := s.store.GetDecision(ctx, decisionID); err != nil {
		return nil, err
	}
	return s.store.ListRelatedItems(ctx, decisionID)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.searcher == nil {
		return search.Response{Results: []search.Result{}}
	}
	return s.searcher.Search(q)
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exports == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "export service is not configured", nil)
	}
	return s.exports.Export(ctx, req)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexDecision(decision store.Decision) {
	if s.searcher == nil {
		return
	}
	s.searcher.IndexDecision(search.DecisionRecord{
		ID:          decision.ID,
		Title:       decision.Title,
		Description: decision.Description,
		Phase:       decision.Phase,
		ProjectID:   decision.ProjectID,
		Status:      decision.Status,
	})
}

// notifyPublished emails every verified client that a new version is waiting
// for review. Failures are logged, never surfaced to the caller.
func (s *Service) notifyPublished(decision store.Decision, version int) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		clients, err := s.store.ListUsersByRole(ctx, string(rbac.RoleClient))
		if err != nil {
			log.Printf("publish notification: list clients: %v", err)
			return
		}
		projectName := s.projectName(ctx, decision.ProjectID)
		for _, client := range clients {
			if client.Email == "" {
				continue
			}
			err := s.mail.SendDecisionPublishedEmail(client.Email, client.DisplayName, email.DecisionEventData{
				DecisionTitle: decision.Title,
				ProjectName:   projectName,
				Version:       version,
				DecisionURL:   fmt.Sprintf("%s/decisions/%s", s.cfg.CORSOrigin, decision.ID),
			})
			if err != nil {
				log.Printf("publish notification: send to %s: %v", client.Email, err)
			}
		}
	}()
}

// notifyOutcome emails the decision's assignee after an approval or a change
// request.
func (s *Service) notifyOutcome(decision store.Decision, comment string, approved bool) {
	if s.mail == nil || !s.mail.IsConfigured() || decision.AssigneeID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		assignee, err := s.store.GetUserByID(ctx, decision.AssigneeID)
		if err != nil || assignee.Email == "" {
			return
		}
		data := email.DecisionEventData{
			DecisionTitle: decision.Title,
			ProjectName:   s.projectName(ctx, decision.ProjectID),
			Version:       decision.Version,
			Comment:       comment,
			DecisionURL:   fmt.Sprintf("%s/decisions/%s", s.cfg.CORSOrigin, decision.ID),
		}
		if approved {
			err = s.mail.SendDecisionApprovedEmail(assignee.Email, assignee.DisplayName, data)
		} else {
			err = s.mail.SendChangesRequestedEmail(assignee.Email, assignee.DisplayName, data)
		}
		if err != nil {
			log.Printf("decision notification: send to %s: %v", assignee.Email, err)
		}
	}()
}

// resolveAssignee looks up the assignee's display name so decision rows and
// exports carry it without a join.
func (s *Service) resolveAssignee(ctx context.Context, assigneeID string) (string, string, error) {
	id := strings.TrimSpace(assigneeID)
	if id == "" {
		return "", "", nil
	}
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "assignee does not exist", map[string]any{"assigneeId": id})
		}
		return "", "", err
	}
	return user.ID, user.DisplayName, nil
}

func (s *Service) projectName(ctx context.Context, projectID string) string {
	if projectID == "" {
		return ""
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ""
	}
	return project.Name
}

func (s *Service) sendAsync(send func(mailer) error) {
	if s.mail == nil || !s.mail.IsConfigured() {
		return
	}
	go func() {
		if err := send(s.mail); err != nil {
			log.Printf("send mail: %v", err)
		}
	}()
}

func buildOptions(decisionID string, inputs []OptionInput) []store.Option {
	options := make([]store.Option, 0, len(inputs))
	for i, input := range inputs {
		title := strings.TrimSpace(input.Title)
		if title == "" {
			continue
		}
		options = append(options, store.Option{
			ID:          util.NewID("opt"),
			DecisionID:  decisionID,
			Title:       title,
			Description: strings.TrimSpace(input.Description),
			ImageKey:    strings.TrimSpace(input.ImageKey),
			CostDelta:   input.CostDelta,
			Recommended: input.Recommended,
			SortOrder:   i,
		})
	}
	return options
}

// costImpactOf is the headline number on the dashboard card: the summed
// cost deltas of the recommended options, zero when nothing is recommended.
func costImpactOf(options []store.Option) float64 {
	var total float64
	for _, option := range options {
		if option.Recommended {
			total += option.CostDelta
		}
	}
	return total
}

func contentOf(decision store.Decision) snapshot.Content {
	content := snapshot.Content{
		Title:       decision.Title,
		Description: decision.Description,
		Phase:       decision.Phase,
		CostImpact:  decision.CostImpact,
		Options:     make([]snapshot.OptionContent, 0, len(decision.Options)),
	}
	for _, option := range decision.Options {
		content.Options = append(content.Options, snapshot.OptionContent{
			Title:       option.Title,
			Description: option.Description,
			ImageKey:    option.ImageKey,
			CostDelta:   option.CostDelta,
			Recommended: option.Recommended,
		})
	}
	return content
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
