package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"veyra.org/internal/ids"
)

// queryTimeout bounds every backing-store call so a hung database surfaces
// as a deny instead of a stalled request.
const queryTimeout = 5 * time.Second

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL through the pgx stdlib driver.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Organizations(context.Context) OrganizationStore { return &pgOrgStore{db: s.db} }
func (s *PGStore) Users(context.Context) UserStore                 { return &pgUserStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore           { return &pgSessionStore{db: s.db} }
func (s *PGStore) Overrides(context.Context) OverrideStore         { return &pgOverrideStore{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore                { return &pgAuditStore{db: s.db} }

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// Organization store -------------------------------------------------------

type pgOrgStore struct{ db *sql.DB }

func (s *pgOrgStore) Create(ctx context.Context, org *Organization) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into organizations(id, name) values($1,$2)`,
		org.ID, org.Name,
	)
	return err
}

func (s *pgOrgStore) Find(ctx context.Context, id string) (*Organization, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at from organizations where id=$1`, id)
	var org Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

func (s *pgOrgStore) List(ctx context.Context) ([]*Organization, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`select id, name, created_at, updated_at from organizations order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, &org)
	}
	return res, rows.Err()
}

// User store ---------------------------------------------------------------

type pgUserStore struct{ db *sql.DB }

const userColumns = `id, organization_id, email, role_id, password_hash, status,
 failed_login_attempts, account_locked, lockout_until, two_factor_enabled, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u            User
		lockoutUntil sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.RoleID, &u.PasswordHash, &u.Status,
		&u.FailedLoginAttempts, &u.AccountLocked, &lockoutUntil, &u.TwoFactorEnabled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if lockoutUntil.Valid {
		u.LockoutUntil = lockoutUntil.Time
	}
	return &u, nil
}

func (s *pgUserStore) Create(ctx context.Context, u *User) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, organization_id, email, role_id, password_hash, status, two_factor_enabled)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.OrganizationID, u.Email, u.RoleID, u.PasswordHash, u.Status, u.TwoFactorEnabled,
	)
	return err
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *pgUserStore) ListByOrg(ctx context.Context, orgID string) ([]*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where organization_id=$1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// RecordLoginFailure applies the counter increment and the lock transition
// in one statement so concurrent readers see either the old or new state.
func (s *pgUserStore) RecordLoginFailure(ctx context.Context, userID string, threshold int, lockout time.Duration, now time.Time) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return scanUser(s.db.QueryRowContext(ctx,
		`update users set
		   failed_login_attempts = failed_login_attempts + 1,
		   account_locked = (failed_login_attempts + 1 >= $2),
		   lockout_until = case when failed_login_attempts + 1 >= $2 then $3 else lockout_until end,
		   updated_at = $4
		 where id=$1
		 returning `+userColumns,
		userID, threshold, now.Add(lockout), now))
}

func (s *pgUserStore) RecordLoginSuccess(ctx context.Context, userID string, now time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`update users set failed_login_attempts=0, account_locked=false, lockout_until=null, updated_at=$2 where id=$1`,
		userID, now)
	return err
}

func (s *pgUserStore) UpdateRole(ctx context.Context, userID, roleID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`update users set role_id=$2, updated_at=now() where id=$1`, userID, roleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUserStore) SetStatus(ctx context.Context, userID, status string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, userID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store ------------------------------------------------------------

type pgSessionStore struct{ db *sql.DB }

func (s *pgSessionStore) Create(ctx context.Context, sess *Session) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, token_hash, ip_address, user_agent, created_at, last_activity, expires_at, is_active)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.IPAddress, sess.UserAgent,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt, sess.IsActive,
	)
	return err
}

func (s *pgSessionStore) FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, ip_address, user_agent, created_at, last_activity, expires_at, is_active
		 from sessions where token_hash=$1`, tokenHash)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.IPAddress, &sess.UserAgent,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt, &sess.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_activity=$2 where id=$1`, id, at)
	return err
}

func (s *pgSessionStore) Invalidate(ctx context.Context, tokenHash string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	// Idempotent: zero rows affected is still success.
	_, err := s.db.ExecContext(ctx,
		`update sessions set is_active=false where token_hash=$1`, tokenHash)
	return err
}

func (s *pgSessionStore) InvalidateAllForUser(ctx context.Context, userID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`update sessions set is_active=false where user_id=$1`, userID)
	return err
}

// Override store -----------------------------------------------------------

type pgOverrideStore struct{ db *sql.DB }

func (s *pgOverrideStore) Create(ctx context.Context, o *PermissionOverride) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if o.ID == "" {
		o.ID = ids.New()
	}
	var expiresAt any
	if !o.ExpiresAt.IsZero() {
		expiresAt = o.ExpiresAt
	}
	_, err := s.db.ExecContext(ctx,
		`insert into permission_overrides(id, user_id, permission_key, granted, granted_by, reason, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, o.PermissionKey, o.Granted, o.GrantedBy, o.Reason, expiresAt, o.CreatedAt,
	)
	return err
}

func (s *pgOverrideStore) ListForUser(ctx context.Context, userID string) ([]PermissionOverride, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, permission_key, granted, granted_by, reason, expires_at, created_at
		 from permission_overrides where user_id=$1 order by created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermissionOverride
	for rows.Next() {
		var (
			o         PermissionOverride
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.PermissionKey, &o.Granted, &o.GrantedBy, &o.Reason, &expiresAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			o.ExpiresAt = expiresAt.Time
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *pgOverrideStore) Delete(ctx context.Context, userID, permissionKey string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`delete from permission_overrides where user_id=$1 and permission_key=$2`, userID, permissionKey)
	return err
}

// Audit store --------------------------------------------------------------

type pgAuditStore struct{ db *sql.DB }

func (s *pgAuditStore) Append(ctx context.Context, rec *AuditRecord) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	detail, _ := json.Marshal(rec.Detail)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, organization_id, user_id, action, resource, resource_id, detail, created_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8)`,
		rec.ID, rec.OrganizationID, rec.UserID, rec.Action, rec.Resource, rec.ResourceID, detail, rec.CreatedAt,
	)
	return err
}

func (s *pgAuditStore) ListByOrg(ctx context.Context, orgID string, offset, limit int) ([]AuditRecord, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`select id, organization_id, user_id, action, resource, resource_id, detail, created_at
		 from audit_log where organization_id=$1 order by created_at desc offset $2 limit $3`,
		orgID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			rec    AuditRecord
			detail []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OrganizationID, &rec.UserID, &rec.Action, &rec.Resource, &rec.ResourceID, &detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(detail, &rec.Detail)
		out = append(out, rec)
	}
	return out, rows.Err()
}
