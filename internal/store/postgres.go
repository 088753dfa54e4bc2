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

func (s *PostgresStore) CreateUser(ctx context.Context, email, displayName, passwordHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, display_name, password_hash)
		VALUES (LOWER($1), $2, $3)
		RETURNING id, email, display_name, password_hash, created_at, updated_at
	`, email, displayName, passwordHash).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, name, slug, description string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (name, slug, description)
		VALUES ($1, $2, $3)
		RETURNING id, name, slug, description, created_at, updated_at
	`, name, slug, description).Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	return org, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, orgID string) (Organization, error) {
	var org Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM organizations
		WHERE id=$1
	`, orgID).Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) UpdateOrganization(ctx context.Context, orgID, name, description string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE organizations SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
	`, orgID, name, description)
	if err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, orgID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id=$1`, orgID)
	if err != nil {
		return fmt.Errorf("delete organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUserOrganizations(ctx context.Context, userID string) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.slug, o.description, o.created_at, o.updated_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id=$1
		ORDER BY o.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user organizations: %w", err)
	}
	defer rows.Close()

	items := make([]Organization, 0)
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertMember(ctx context.Context, orgID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, orgID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, orgID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM organization_members WHERE organization_id=$1 AND user_id=$2
	`, orgID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove member rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) GetMemberRole(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM organization_members WHERE organization_id=$1 AND user_id=$2
	`, orgID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("read member role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.organization_id, m.user_id, u.email, u.display_name, m.role, m.created_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id=$1
		ORDER BY u.display_name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var item Member
		if err := rows.Scan(&item.OrganizationID, &item.UserID, &item.Email, &item.DisplayName, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MemberCount(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM organization_members WHERE organization_id=$1
	`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, orgID, plan, status string, seatLimit int, periodEnd *time.Time) (Subscription, error) {
	var item Subscription
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (organization_id, plan, status, seat_limit, current_period_end)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id) DO UPDATE
		SET plan=EXCLUDED.plan, status=EXCLUDED.status, seat_limit=EXCLUDED.seat_limit,
		    current_period_end=EXCLUDED.current_period_end, updated_at=NOW()
		RETURNING id, organization_id, plan, status, seat_limit, current_period_end, created_at, updated_at
	`, orgID, plan, status, seatLimit, periodEnd).Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Plan,
		&item.Status,
		&item.SeatLimit,
		&item.CurrentPeriodEnd,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Subscription{}, fmt.Errorf("upsert subscription: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, orgID string) (Subscription, error) {
	var item Subscription
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, plan, status, seat_limit, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE organization_id=$1
	`, orgID).Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Plan,
		&item.Status,
		&item.SeatLimit,
		&item.CurrentPeriodEnd,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Subscription{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertInvitation(ctx context.Context, invitation Invitation) (Invitation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (id, organization_id, email, role, token_hash, expires_at, created_by_name)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7)
		RETURNING created_at
	`, invitation.ID, invitation.OrganizationID, invitation.Email, invitation.Role, invitation.TokenHash, invitation.ExpiresAt, invitation.CreatedBy).
		Scan(&invitation.CreatedAt)
	if err != nil {
		return Invitation{}, fmt.Errorf("insert invitation: %w", err)
	}
	return invitation, nil
}

func (s *PostgresStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	var item Invitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, email, role, token_hash, expires_at, accepted_at, created_by_name, created_at
		FROM invitations
		WHERE token_hash=$1 AND accepted_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(
		&item.ID,
		&item.OrganizationID,
		&item.Email,
		&item.Role,
		&item.TokenHash,
		&item.ExpiresAt,
		&item.AcceptedAt,
		&item.CreatedBy,
		&item.CreatedAt,
	)
	if err != nil {
		return Invitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) MarkInvitationAccepted(ctx context.Context, invitationID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE invitations SET accepted_at=NOW() WHERE id=$1`, invitationID)
	if err != nil {
		return fmt.Errorf("mark invitation accepted: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListInvitations(ctx context.Context, orgID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, email, role, token_hash, expires_at, accepted_at, created_by_name, created_at
		FROM invitations
		WHERE organization_id=$1
		ORDER BY created_at DESC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		var item Invitation
		if err := rows.Scan(
			&item.ID,
			&item.OrganizationID,
			&item.Email,
			&item.Role,
			&item.TokenHash,
			&item.ExpiresAt,
			&item.AcceptedAt,
			&item.CreatedBy,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteInvitation(ctx context.Context, orgID, invitationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM invitations WHERE id=$1 AND organization_id=$2
	`, invitationID, orgID)
	if err != nil {
		return false, fmt.Errorf("delete invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete invitation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM invitations WHERE accepted_at IS NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("delete expired invitations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired invitations rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) InsertGallery(ctx context.Context, gallery Gallery) (Gallery, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO galleries (id, organization_id, name, description, visibility)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, gallery.ID, gallery.OrganizationID, gallery.Name, gallery.Description, gallery.Visibility).
		Scan(&gallery.CreatedAt, &gallery.UpdatedAt)
	if err != nil {
		return Gallery{}, fmt.Errorf("insert gallery: %w", err)
	}
	return gallery, nil
}

func (s *PostgresStore) GetGallery(ctx context.Context, orgID, galleryID string) (Gallery, error) {
	var item Gallery
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, description, visibility, created_at, updated_at
		FROM galleries
		WHERE id=$1 AND organization_id=$2
	`, galleryID, orgID).Scan(&item.ID, &item.OrganizationID, &item.Name, &item.Description, &item.Visibility, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Gallery{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListGalleries(ctx context.Context, orgID string) ([]Gallery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, name, description, visibility, created_at, updated_at
		FROM galleries
		WHERE organization_id=$1
		ORDER BY name ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list galleries: %w", err)
	}
	defer rows.Close()

	items := make([]Gallery, 0)
	for rows.Next() {
		var item Gallery
		if err := rows.Scan(&item.ID, &item.OrganizationID, &item.Name, &item.Description, &item.Visibility, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan gallery: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate galleries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateGallery(ctx context.Context, orgID, galleryID, name, description, visibility string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE galleries SET name=$3, description=$4, visibility=$5, updated_at=NOW()
		WHERE id=$1 AND organization_id=$2
	`, galleryID, orgID, name, description, visibility)
	if err != nil {
		return false, fmt.Errorf("update gallery: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update gallery rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteGallery(ctx context.Context, orgID, galleryID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM galleries WHERE id=$1 AND organization_id=$2
	`, galleryID, orgID)
	if err != nil {
		return false, fmt.Errorf("delete gallery: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete gallery rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) AddGalleryProcessor(ctx context.Context, galleryID, processorID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gallery_processors (gallery_id, processor_id)
		VALUES ($1, $2)
		ON CONFLICT (gallery_id, processor_id) DO NOTHING
	`, galleryID, processorID)
	if err != nil {
		return fmt.Errorf("add gallery processor: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveGalleryProcessor(ctx context.Context, galleryID, processorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM gallery_processors WHERE gallery_id=$1 AND processor_id=$2
	`, galleryID, processorID)
	if err != nil {
		return false, fmt.Errorf("remove gallery processor: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove gallery processor rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListGalleryProcessors(ctx context.Context, galleryID string) ([]Processor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.organization_id, p.name, p.description, p.status,
		       COALESCE(p.area_configuration::text, '[]'), COALESCE(p.loaded_snapshot_id::text, ''),
		       p.created_by_name, p.created_at, p.updated_at
		FROM processors p
		JOIN gallery_processors gp ON gp.processor_id = p.id
		WHERE gp.gallery_id=$1
		ORDER BY p.name ASC
	`, galleryID)
	if err != nil {
		return nil, fmt.Errorf("list gallery processors: %w", err)
	}
	defer rows.Close()
	return scanProcessors(rows)
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.DisplayName)
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
