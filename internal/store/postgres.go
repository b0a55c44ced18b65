package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	var verifyToken sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified, COALESCE(verification_token, '')
		FROM users
		WHERE LOWER(email)=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified, &verifyToken)
	if err != nil {
		return User{}, err
	}
	user.VerificationToken = verifyToken.String
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role
		FROM users
		WHERE role = $1 AND is_email_verified = TRUE
		ORDER BY display_name
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- projects ----

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, phase, client_name, description, created_at, updated_at
		FROM projects
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Name, &item.Status, &item.Phase, &item.ClientName, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, phase, client_name, description, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Name, &item.Status, &item.Phase, &item.ClientName, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, status, phase, client_name, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, project.ID, project.Name, project.Status, project.Phase, project.ClientName, project.Description)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// ---- decisions ----

const decisionColumns = `
	id, project_id, title, description, phase, assignee_id, assignee_name,
	status, version, cost_impact, published_at, approved_at, approved_by_name,
	e_signed, created_at, updated_at
`

func scanDecision(row interface{ Scan(...any) error }) (Decision, error) {
	var item Decision
	if err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Title,
		&item.Description,
		&item.Phase,
		&item.AssigneeID,
		&item.AssigneeName,
		&item.Status,
		&item.Version,
		&item.CostImpact,
		&item.PublishedAt,
		&item.ApprovedAt,
		&item.ApprovedBy,
		&item.ESigned,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Decision{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetDecision(ctx context.Context, decisionID string) (Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+decisionColumns+`
		FROM decisions
		WHERE id=$1 AND deleted_at IS NULL
	`, decisionID)
	item, err := scanDecision(row)
	if err != nil {
		return Decision{}, err
	}
	options, err := s.listOptions(ctx, decisionID)
	if err != nil {
		return Decision{}, err
	}
	item.Options = options
	return item, nil
}

// ListDecisions returns every non-deleted decision for a project with its
// options loaded. Filtering, sorting, and pagination happen above the store.
func (s *PostgresStore) ListDecisions(ctx context.Context, projectID string) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionColumns+`
		FROM decisions
		WHERE deleted_at IS NULL AND ($1='' OR project_id=$1)
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	items := make([]Decision, 0)
	for rows.Next() {
		item, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}

	for i := range items {
		options, err := s.listOptions(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].Options = options
	}
	return items, nil
}

func (s *PostgresStore) listOptions(ctx context.Context, decisionID string) ([]Option, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, title, description, image_key, cost_delta, recommended, sort_order
		FROM decision_options
		WHERE decision_id=$1
		ORDER BY sort_order ASC, id ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	defer rows.Close()

	items := make([]Option, 0)
	for rows.Next() {
		var item Option
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.Title, &item.Description, &item.ImageKey, &item.CostDelta, &item.Recommended, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return items, nil
}

// InsertDecision writes a new draft and its options and the "Created" audit
// entry in one transaction.
func (s *PostgresStore) InsertDecision(ctx context.Context, decision Decision, actorID, actorName string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decisions (id, project_id, title, description, phase, assignee_id, assignee_name, status, version, cost_impact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft', 0, $8)
	`, decision.ID, decision.ProjectID, decision.Title, decision.Description, decision.Phase, decision.AssigneeID, decision.AssigneeName, decision.CostImpact); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}

	if err := insertOptionsTx(ctx, tx, decision.ID, decision.Options); err != nil {
		return err
	}

	if err := appendAuditTx(ctx, tx, decision.ID, actorID, actorName, "Created", ""); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert decision: %w", err)
	}
	return nil
}

// UpdateDecisionContent rewrites title/description/phase/assignee/options and
// the derived cost impact, but only while the decision is editable. Returns
// false when the status precondition no longer holds.
func (s *PostgresStore) UpdateDecisionContent(ctx context.Context, decision Decision, actorID, actorName string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin update decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET title=$2, description=$3, phase=$4, assignee_id=$5, assignee_name=$6, cost_impact=$7, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND status IN ('draft', 'changes_requested')
	`, decision.ID, decision.Title, decision.Description, decision.Phase, decision.AssigneeID, decision.AssigneeName, decision.CostImpact)
	if err != nil {
		return false, fmt.Errorf("update decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update decision rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM decision_options WHERE decision_id=$1`, decision.ID); err != nil {
		return false, fmt.Errorf("clear options: %w", err)
	}
	if err := insertOptionsTx(ctx, tx, decision.ID, decision.Options); err != nil {
		return false, err
	}

	if err := appendAuditTx(ctx, tx, decision.ID, actorID, actorName, "Edited", ""); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update decision: %w", err)
	}
	return true, nil
}

func insertOptionsTx(ctx context.Context, tx *sql.Tx, decisionID string, options []Option) error {
	for i, option := range options {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decision_options (id, decision_id, title, description, image_key, cost_delta, recommended, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, option.ID, decisionID, option.Title, option.Description, option.ImageKey, option.CostDelta, option.Recommended, i); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return nil
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, decisionID, actorID, actorName, action, detail string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (decision_id, actor_id, actor_name, action, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, decisionID, actorID, actorName, action, detail); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// TransitionApprove moves pending → approved and appends the audit entry in
// one transaction. The WHERE clause is the compare-and-swap: zero rows means
// the decision was not pending anymore (or was deleted) when we got here.
func (s *PostgresStore) TransitionApprove(ctx context.Context, decisionID, actorID, actorName, comment string, eSigned bool) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approve: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET status='approved', approved_at=NOW(), approved_by_name=$2, e_signed=$3, updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND status='pending'
	`, decisionID, actorName, eSigned)
	if err != nil {
		return false, fmt.Errorf("approve decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve decision rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := appendAuditTx(ctx, tx, decisionID, actorID, actorName, "Approved", comment); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approve: %w", err)
	}
	return true, nil
}

// TransitionRequestChange moves pending → changes_requested.
func (s *PostgresStore) TransitionRequestChange(ctx context.Context, decisionID, actorID, actorName, comment string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin request change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET status='changes_requested', updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND status='pending'
	`, decisionID)
	if err != nil {
		return false, fmt.Errorf("request change: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request change rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := appendAuditTx(ctx, tx, decisionID, actorID, actorName, "Requested change: "+comment, ""); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit request change: %w", err)
	}
	return true, nil
}

// TransitionPublish moves draft/changes_requested → pending, bumps the
// version by exactly one, and records the immutable version row and the
// audit entry together. expectedVersion guards against a concurrent publish.
func (s *PostgresStore) TransitionPublish(ctx context.Context, version DecisionVersion, actorID, actorName string, expectedVersion int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET status='pending', version=version+1, published_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL AND status IN ('draft', 'changes_requested') AND version=$2
	`, version.DecisionID, expectedVersion)
	if err != nil {
		return false, fmt.Errorf("publish decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("publish decision rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_versions (id, decision_id, version, snapshot_ref, published_by_name)
		VALUES ($1, $2, $3, $4, $5)
	`, version.ID, version.DecisionID, version.Version, version.SnapshotRef, actorName); err != nil {
		return false, fmt.Errorf("insert decision version: %w", err)
	}

	action := fmt.Sprintf("Published version %d", version.Version)
	if err := appendAuditTx(ctx, tx, version.DecisionID, actorID, actorName, action, ""); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit publish: %w", err)
	}
	return true, nil
}

// SoftDeleteDecision marks the decision removed and audits the removal.
// Already-removed and never-existed ids both report zero rows.
func (s *PostgresStore) SoftDeleteDecision(ctx context.Context, decisionID, actorID, actorName string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete decision: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE decisions
		SET deleted_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND deleted_at IS NULL
	`, decisionID)
	if err != nil {
		return false, fmt.Errorf("delete decision: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete decision rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := appendAuditTx(ctx, tx, decisionID, actorID, actorName, "Removed", ""); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete decision: %w", err)
	}
	return true, nil
}

// ---- ledger reads ----

func (s *PostgresStore) ListAuditLog(ctx context.Context, decisionID string) ([]AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, actor_id, actor_name, action, detail, created_at
		FROM audit_log
		WHERE decision_id=$1
		ORDER BY created_at ASC, id ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var item AuditLogEntry
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.ActorID, &item.ActorName, &item.Action, &item.Detail, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, decisionID string) ([]DecisionVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, version, snapshot_ref, published_by_name, published_at
		FROM decision_versions
		WHERE decision_id=$1
		ORDER BY version ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionVersion, 0)
	for rows.Next() {
		var item DecisionVersion
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.Version, &item.SnapshotRef, &item.PublishedBy, &item.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, decisionID string, version int) (DecisionVersion, error) {
	var item DecisionVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, decision_id, version, snapshot_ref, published_by_name, published_at
		FROM decision_versions
		WHERE decision_id=$1 AND version=$2
	`, decisionID, version).Scan(&item.ID, &item.DecisionID, &item.Version, &item.SnapshotRef, &item.PublishedBy, &item.PublishedAt)
	if err != nil {
		return DecisionVersion{}, err
	}
	return item, nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, comment DecisionComment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO decision_comments (id, decision_id, author_id, author_name, body, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.DecisionID, comment.AuthorID, comment.AuthorName, comment.Body, comment.ParentID); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	if err := appendAuditTx(ctx, tx, comment.DecisionID, comment.AuthorID, comment.AuthorName, "Commented", ""); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, decisionID, commentID string) (DecisionComment, error) {
	var item DecisionComment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, decision_id, author_id, author_name, body, parent_id, created_at
		FROM decision_comments
		WHERE decision_id=$1 AND id=$2
	`, decisionID, commentID).Scan(&item.ID, &item.DecisionID, &item.AuthorID, &item.AuthorName, &item.Body, &item.ParentID, &item.CreatedAt)
	if err != nil {
		return DecisionComment{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, decisionID string) ([]DecisionComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, author_id, author_name, body, parent_id, created_at
		FROM decision_comments
		WHERE decision_id=$1
		ORDER BY created_at ASC, id ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]DecisionComment, 0)
	for rows.Next() {
		var item DecisionComment
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.AuthorID, &item.AuthorName, &item.Body, &item.ParentID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ---- related items ----

func (s *PostgresStore) InsertRelatedItem(ctx context.Context, item RelatedItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO related_items (id, decision_id, type, title, url)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DecisionID, item.Type, item.Title, item.URL)
	if err != nil {
		return fmt.Errorf("insert related item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRelatedItems(ctx context.Context, decisionID string) ([]RelatedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, type, title, url, created_at
		FROM related_items
		WHERE decision_id=$1
		ORDER BY created_at ASC, id ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list related items: %w", err)
	}
	defer rows.Close()

	items := make([]RelatedItem, 0)
	for rows.Next() {
		var item RelatedItem
		if err := rows.Scan(&item.ID, &item.DecisionID, &item.Type, &item.Title, &item.URL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan related item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate related items: %w", err)
	}
	return items, nil
}

// ---- dashboard ----

func (s *PostgresStore) SummaryCounts(ctx context.Context, projectID string) (total int, pending int, approved int, err error) {
	const query = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status='pending'),
			COUNT(*) FILTER (WHERE status='approved')
		FROM decisions
		WHERE deleted_at IS NULL AND ($1='' OR project_id=$1)
	`
	if err = s.db.QueryRowContext(ctx, query, projectID).Scan(&total, &pending, &approved); err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return
}
