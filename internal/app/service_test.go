package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"chooseandbuild/api/internal/config"
	"chooseandbuild/api/internal/snapshot"
	"chooseandbuild/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn             func(context.Context, string) (store.User, error)
	getProjectFn              func(context.Context, string) (store.Project, error)
	getDecisionFn             func(context.Context, string) (store.Decision, error)
	listDecisionsFn           func(context.Context, string) ([]store.Decision, error)
	insertDecisionFn          func(context.Context, store.Decision, string, string) error
	updateDecisionContentFn   func(context.Context, store.Decision, string, string) (bool, error)
	transitionApproveFn       func(context.Context, string, string, string, string, bool) (bool, error)
	transitionRequestChangeFn func(context.Context, string, string, string, string) (bool, error)
	transitionPublishFn       func(context.Context, store.DecisionVersion, string, string, int) (bool, error)
	softDeleteDecisionFn      func(context.Context, string, string, string) (bool, error)
	insertCommentFn           func(context.Context, store.DecisionComment) error
	getCommentFn              func(context.Context, string, string) (store.DecisionComment, error)
	getVersionFn              func(context.Context, string, int) (store.DecisionVersion, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID}, nil
}
func (f *fakeStore) ListUsersByRole(context.Context, string) ([]store.User, error) {
	return nil, nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) {
	return false, nil
}
func (f *fakeStore) ListProjects(context.Context) ([]store.Project, error) { return nil, nil }
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{ID: projectID, Name: "Hillcrest Residence"}, nil
}
func (f *fakeStore) InsertProject(context.Context, store.Project) error { return nil }
func (f *fakeStore) GetDecision(ctx context.Context, decisionID string) (store.Decision, error) {
	if f.getDecisionFn != nil {
		return f.getDecisionFn(ctx, decisionID)
	}
	return store.Decision{}, sql.ErrNoRows
}
func (f *fakeStore) ListDecisions(ctx context.Context, projectID string) ([]store.Decision, error) {
	if f.listDecisionsFn != nil {
		return f.listDecisionsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) InsertDecision(ctx context.Context, decision store.Decision, actorID, actorName string) error {
	if f.insertDecisionFn != nil {
		return f.insertDecisionFn(ctx, decision, actorID, actorName)
	}
	return nil
}
func (f *fakeStore) UpdateDecisionContent(ctx context.Context, decision store.Decision, actorID, actorName string) (bool, error) {
	if f.updateDecisionContentFn != nil {
		return f.updateDecisionContentFn(ctx, decision, actorID, actorName)
	}
	return true, nil
}
func (f *fakeStore) TransitionApprove(ctx context.Context, decisionID, actorID, actorName, comment string, eSigned bool) (bool, error) {
	if f.transitionApproveFn != nil {
		return f.transitionApproveFn(ctx, decisionID, actorID, actorName, comment, eSigned)
	}
	return true, nil
}
func (f *fakeStore) TransitionRequestChange(ctx context.Context, decisionID, actorID, actorName, comment string) (bool, error) {
	if f.transitionRequestChangeFn != nil {
		return f.transitionRequestChangeFn(ctx, decisionID, actorID, actorName, comment)
	}
	return true, nil
}
func (f *fakeStore) TransitionPublish(ctx context.Context, version store.DecisionVersion, actorID, actorName string, expectedVersion int) (bool, error) {
	if f.transitionPublishFn != nil {
		return f.transitionPublishFn(ctx, version, actorID, actorName, expectedVersion)
	}
	return true, nil
}
func (f *fakeStore) SoftDeleteDecision(ctx context.Context, decisionID, actorID, actorName string) (bool, error) {
	if f.softDeleteDecisionFn != nil {
		return f.softDeleteDecisionFn(ctx, decisionID, actorID, actorName)
	}
	return true, nil
}
func (f *fakeStore) ListAuditLog(context.Context, string) ([]store.AuditLogEntry, error) {
	return nil, nil
}
func (f *fakeStore) ListVersions(context.Context, string) ([]store.DecisionVersion, error) {
	return nil, nil
}
func (f *fakeStore) GetVersion(ctx context.Context, decisionID string, version int) (store.DecisionVersion, error) {
	if f.getVersionFn != nil {
		return f.getVersionFn(ctx, decisionID, version)
	}
	return store.DecisionVersion{}, sql.ErrNoRows
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.DecisionComment) error {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	return nil
}
func (f *fakeStore) GetComment(ctx context.Context, decisionID, commentID string) (store.DecisionComment, error) {
	if f.getCommentFn != nil {
		return f.getCommentFn(ctx, decisionID, commentID)
	}
	return store.DecisionComment{}, sql.ErrNoRows
}
func (f *fakeStore) ListComments(context.Context, string) ([]store.DecisionComment, error) {
	return nil, nil
}
func (f *fakeStore) InsertRelatedItem(context.Context, store.RelatedItem) error { return nil }
func (f *fakeStore) ListRelatedItems(context.Context, string) ([]store.RelatedItem, error) {
	return nil, nil
}
func (f *fakeStore) SummaryCounts(context.Context, string) (int, int, int, error) {
	return 0, 0, 0, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeArchive struct {
	ensureDecisionRepoFn func(string, snapshot.Content, string) error
	commitVersionFn      func(string, snapshot.Content, string, int) (string, error)
	contentAtFn          func(string, string) (snapshot.Content, error)
}

func (f *fakeArchive) EnsureDecisionRepo(decisionID string, initial snapshot.Content, author string) error {
	if f.ensureDecisionRepoFn != nil {
		return f.ensureDecisionRepoFn(decisionID, initial, author)
	}
	return nil
}
func (f *fakeArchive) CommitVersion(decisionID string, content snapshot.Content, author string, version int) (string, error) {
	if f.commitVersionFn != nil {
		return f.commitVersionFn(decisionID, content, author, version)
	}
	return "aaaabbbbccccddddeeeeffff0000111122223333", nil
}
func (f *fakeArchive) ContentAt(decisionID, ref string) (snapshot.Content, error) {
	if f.contentAtFn != nil {
		return f.contentAtFn(decisionID, ref)
	}
	return snapshot.Content{}, nil
}

func newTestService(fs *fakeStore, fa *fakeArchive) *Service {
	return &Service{
		cfg:     config.Config{},
		store:   fs,
		archive: fa,
		locks:   make(map[string]*sync.Mutex),
	}
}

func testSession() Session {
	return Session{UserID: "usr_1", UserName: "Dana Whitfield", Role: "architect"}
}

func draftDecision(id string) store.Decision {
	return store.Decision{
		ID:        id,
		ProjectID: "prj_hillcrest",
		Title:     "Kitchen countertop material",
		Status:    "draft",
		Version:   2,
		Options: []store.Option{
			{ID: "opt_1", DecisionID: id, Title: "Quartz", CostDelta: 4200},
			{ID: "opt_2", DecisionID: id, Title: "Butcher block", CostDelta: -800},
		},
	}
}

func TestPublishBumpsVersionAndCommitsSnapshot(t *testing.T) {
	decision := draftDecision("dec_1")
	publishCalls := 0
	commitCalls := 0

	fs := &fakeStore{
		getDecisionFn: func(_ context.Context, id string) (store.Decision, error) {
			return decision, nil
		},
		transitionPublishFn: func(_ context.Context, version store.DecisionVersion, actorID, actorName string, expectedVersion int) (bool, error) {
			publishCalls++
			if version.Version != 3 {
				t.Fatalf("expected snapshot version 3, got %d", version.Version)
			}
			if expectedVersion != 2 {
				t.Fatalf("expected optimistic guard at version 2, got %d", expectedVersion)
			}
			if version.SnapshotRef != "aaaabbbbccccddddeeeeffff0000111122223333" {
				t.Fatalf("expected snapshot ref from archive commit, got %q", version.SnapshotRef)
			}
			if actorName != "Dana Whitfield" {
				t.Fatalf("expected actor Dana Whitfield, got %q", actorName)
			}
			decision.Status = "pending"
			decision.Version = 3
			return true, nil
		},
	}
	fa := &fakeArchive{
		commitVersionFn: func(decisionID string, content snapshot.Content, author string, version int) (string, error) {
			commitCalls++
			if version != 3 {
				t.Fatalf("expected archive commit for version 3, got %d", version)
			}
			if len(content.Options) != 2 {
				t.Fatalf("expected 2 options in snapshot, got %d", len(content.Options))
			}
			return "aaaabbbbccccddddeeeeffff0000111122223333", nil
		},
	}
	svc := newTestService(fs, fa)

	published, err := svc.PublishVersion(context.Background(), testSession(), "dec_1")
	if err != nil {
		t.Fatalf("PublishVersion() error = %v", err)
	}
	if published.Status != "pending" {
		t.Fatalf("expected status pending after publish, got %s", published.Status)
	}
	if published.Version != 3 {
		t.Fatalf("expected version 3, got %d", published.Version)
	}
	if commitCalls != 1 || publishCalls != 1 {
		t.Fatalf("expected one archive commit and one publish, got %d and %d", commitCalls, publishCalls)
	}
}

func TestPublishRejectsPendingDecision(t *testing.T) {
	decision := draftDecision("dec_1")
	decision.Status = "pending"
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.PublishVersion(context.Background(), testSession(), "dec_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %s", domainErr.Code)
	}
}

func TestPublishRequiresAtLeastOneOption(t *testing.T) {
	decision := draftDecision("dec_1")
	decision.Options = nil
	commits := 0
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
	}
	fa := &fakeArchive{
		commitVersionFn: func(string, snapshot.Content, string, int) (string, error) {
			commits++
			return "", nil
		},
	}
	svc := newTestService(fs, fa)

	_, err := svc.PublishVersion(context.Background(), testSession(), "dec_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
	if commits != 0 {
		t.Fatalf("expected no archive commit for rejected publish, got %d", commits)
	}
}

func TestPublishReportsConflictWhenRowMoved(t *testing.T) {
	decision := draftDecision("dec_1")
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
		transitionPublishFn: func(context.Context, store.DecisionVersion, string, string, int) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.PublishVersion(context.Background(), testSession(), "dec_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", domainErr.Code)
	}
}

func TestApproveOnlyFromPending(t *testing.T) {
	decision := draftDecision("dec_1")
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.Approve(context.Background(), testSession(), "dec_1", ApproveInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %s", domainErr.Code)
	}
}

func TestApprovePassesCommentAndESign(t *testing.T) {
	decision := draftDecision("dec_1")
	decision.Status = "pending"
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
		transitionApproveFn: func(_ context.Context, decisionID, actorID, actorName, comment string, eSigned bool) (bool, error) {
			if comment != "Looks great, go ahead" {
				t.Fatalf("expected trimmed comment, got %q", comment)
			}
			if !eSigned {
				t.Fatal("expected eSign flag to reach the store")
			}
			decision.Status = "approved"
			return true, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	approved, err := svc.Approve(context.Background(), testSession(), "dec_1", ApproveInput{Comment: "  Looks great, go ahead  ", ESign: true})
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if approved.Status != "approved" {
		t.Fatalf("expected status approved, got %s", approved.Status)
	}
}

func TestRequestChangeRequiresComment(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeArchive{})

	_, err := svc.RequestChange(context.Background(), testSession(), "dec_1", RequestChangeInput{Comment: "   "})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestRequestChangeOnlyFromPending(t *testing.T) {
	decision := draftDecision("dec_1")
	decision.Status = "approved"
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.RequestChange(context.Background(), testSession(), "dec_1", RequestChangeInput{Comment: "Swap the quartz for granite"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %s", domainErr.Code)
	}
}

func TestDeleteDecisionIsIdempotent(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		softDeleteDecisionFn: func(context.Context, string, string, string) (bool, error) {
			calls++
			// Second delete finds no live row; still not an error.
			return calls == 1, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	if err := svc.DeleteDecision(context.Background(), testSession(), "dec_1"); err != nil {
		t.Fatalf("first DeleteDecision() error = %v", err)
	}
	if err := svc.DeleteDecision(context.Background(), testSession(), "dec_1"); err != nil {
		t.Fatalf("repeated DeleteDecision() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 soft delete attempts, got %d", calls)
	}
}

func TestUpdateDecisionRejectsLockedStatus(t *testing.T) {
	decision := draftDecision("dec_1")
	decision.Status = "pending"
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
		updateDecisionContentFn: func(context.Context, store.Decision, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.UpdateDecision(context.Background(), testSession(), "dec_1", UpdateDecisionInput{Title: "Kitchen countertop material"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("expected INVALID_TRANSITION, got %s", domainErr.Code)
	}
}

func TestAskQuestionRejectsUnknownParent(t *testing.T) {
	decision := draftDecision("dec_1")
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.AskQuestion(context.Background(), testSession(), "dec_1", CommentInput{Body: "Which finish?", ParentID: "cmt_missing"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_PARENT" {
		t.Fatalf("expected INVALID_PARENT, got %s", domainErr.Code)
	}
}

func TestAskQuestionRejectsReplyToReply(t *testing.T) {
	decision := draftDecision("dec_1")
	rootID := "cmt_root"
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
		getCommentFn: func(_ context.Context, _, commentID string) (store.DecisionComment, error) {
			// The requested parent is itself a reply.
			return store.DecisionComment{ID: commentID, DecisionID: "dec_1", ParentID: &rootID}, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	_, err := svc.AskQuestion(context.Background(), testSession(), "dec_1", CommentInput{Body: "Nested?", ParentID: "cmt_reply"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INVALID_PARENT" {
		t.Fatalf("expected INVALID_PARENT, got %s", domainErr.Code)
	}
}

func TestAskQuestionAcceptsTopLevelReply(t *testing.T) {
	decision := draftDecision("dec_1")
	inserted := store.DecisionComment{}
	fs := &fakeStore{
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return decision, nil
		},
		getCommentFn: func(_ context.Context, _, commentID string) (store.DecisionComment, error) {
			if commentID == "cmt_root" {
				return store.DecisionComment{ID: "cmt_root", DecisionID: "dec_1"}, nil
			}
			return inserted, nil
		},
		insertCommentFn: func(_ context.Context, comment store.DecisionComment) error {
			inserted = comment
			return nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	reply, err := svc.AskQuestion(context.Background(), testSession(), "dec_1", CommentInput{Body: "The matte finish", ParentID: "cmt_root"})
	if err != nil {
		t.Fatalf("AskQuestion() error = %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != "cmt_root" {
		t.Fatalf("expected reply parented to cmt_root, got %v", reply.ParentID)
	}
}

func TestCreateDecisionRequiresTitleAndProject(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeArchive{})

	_, err := svc.CreateDecision(context.Background(), testSession(), CreateDecisionInput{ProjectID: "prj_1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError for missing title, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}

	_, err = svc.CreateDecision(context.Background(), testSession(), CreateDecisionInput{Title: "Facade cladding"})
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError for missing project, got %v", err)
	}
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestCreateDecisionStartsAsDraftWithRepo(t *testing.T) {
	var insertedDecision store.Decision
	repoCalls := 0
	fs := &fakeStore{
		insertDecisionFn: func(_ context.Context, decision store.Decision, actorID, actorName string) error {
			insertedDecision = decision
			return nil
		},
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return insertedDecision, nil
		},
	}
	fa := &fakeArchive{
		ensureDecisionRepoFn: func(decisionID string, initial snapshot.Content, author string) error {
			repoCalls++
			if initial.Title != "Facade cladding" {
				t.Fatalf("expected initial snapshot title, got %q", initial.Title)
			}
			return nil
		},
	}
	svc := newTestService(fs, fa)

	created, err := svc.CreateDecision(context.Background(), testSession(), CreateDecisionInput{
		ProjectID: "prj_1",
		Title:     "Facade cladding",
		Options: []OptionInput{
			{Title: "Brick veneer", CostDelta: 12000},
			{Title: "  "},
		},
	})
	if err != nil {
		t.Fatalf("CreateDecision() error = %v", err)
	}
	if created.Status != "draft" || created.Version != 0 {
		t.Fatalf("expected new decision draft at version 0, got %s v%d", created.Status, created.Version)
	}
	if len(created.Options) != 1 {
		t.Fatalf("expected blank option titles dropped, got %d options", len(created.Options))
	}
	if repoCalls != 1 {
		t.Fatalf("expected one archive repo init, got %d", repoCalls)
	}
}

func TestCostImpactSumsRecommendedOptionsOnly(t *testing.T) {
	var insertedDecision store.Decision
	fs := &fakeStore{
		insertDecisionFn: func(_ context.Context, decision store.Decision, actorID, actorName string) error {
			insertedDecision = decision
			return nil
		},
		getDecisionFn: func(context.Context, string) (store.Decision, error) {
			return insertedDecision, nil
		},
	}
	svc := newTestService(fs, &fakeArchive{})

	created, err := svc.CreateDecision(context.Background(), testSession(), CreateDecisionInput{
		ProjectID: "prj_1",
		Title:     "Flooring",
		Options: []OptionInput{
			{Title: "Engineered oak", CostDelta: 5200, Recommended: true},
			{Title: "Polished concrete", CostDelta: -1800, Recommended: true},
			{Title: "Carpet tiles", CostDelta: 900},
		},
	})
	if err != nil {
		t.Fatalf("CreateDecision() error = %v", err)
	}
	if created.CostImpact != 3400 {
		t.Fatalf("expected cost impact 3400 from recommended options, got %v", created.CostImpact)
	}
}

func TestGetVersionContentReadsSnapshotRef(t *testing.T) {
	fs := &fakeStore{
		getVersionFn: func(_ context.Context, decisionID string, version int) (store.DecisionVersion, error) {
			if version != 2 {
				t.Fatalf("expected version 2 lookup, got %d", version)
			}
			return store.DecisionVersion{DecisionID: decisionID, Version: 2, SnapshotRef: "feedfacefeedfacefeedfacefeedfacefeedface"}, nil
		},
	}
	fa := &fakeArchive{
		contentAtFn: func(decisionID, ref string) (snapshot.Content, error) {
			if ref != "feedfacefeedfacefeedfacefeedfacefeedface" {
				t.Fatalf("expected snapshot ref passthrough, got %q", ref)
			}
			return snapshot.Content{Title: "As published"}, nil
		},
	}
	svc := newTestService(fs, fa)

	version, content, err := svc.GetVersionContent(context.Background(), "dec_1", 2)
	if err != nil {
		t.Fatalf("GetVersionContent() error = %v", err)
	}
	if version.Version != 2 {
		t.Fatalf("expected version 2, got %d", version.Version)
	}
	if content.Title != "As published" {
		t.Fatalf("expected archived content, got %q", content.Title)
	}
}
