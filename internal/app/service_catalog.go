package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"validai/api/internal/auth"
	"validai/api/internal/rbac"
	"validai/api/internal/search"
	"validai/api/internal/store"
	"validai/api/internal/util"
)

var allowedMemberRoles = map[string]struct{}{
	"viewer": {},
	"member": {},
	"admin":  {},
	"owner":  {},
}

var allowedGalleryVisibility = map[string]struct{}{
	"private":      {},
	"organization": {},
	"public":       {},
}

func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func (s *Service) CreateOrganization(ctx context.Context, session Session, name, description string) (store.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Organization{}, errValidation("name is required", nil)
	}
	slug := slugify(name)
	if slug == "" {
		slug = util.NewID("org")
	}

	org, err := s.store.CreateOrganization(ctx, name, slug, description)
	if err != nil {
		return store.Organization{}, err
	}
	if err := s.store.UpsertMember(ctx, org.ID, session.UserID, string(rbac.RoleOwner)); err != nil {
		return store.Organization{}, err
	}
	if _, err := s.store.UpsertSubscription(ctx, org.ID, "free", "active", 5, nil); err != nil {
		return store.Organization{}, err
	}
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, session Session, orgID string) (store.Organization, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return store.Organization{}, err
	}
	if !s.Can(role, rbac.ActionRead) {
		return store.Organization{}, errForbidden("Forbidden")
	}
	return s.store.GetOrganization(ctx, orgID)
}

func (s *Service) ListMyOrganizations(ctx context.Context, session Session) ([]store.Organization, error) {
	return s.store.ListUserOrganizations(ctx, session.UserID)
}

func (s *Service) UpdateOrganization(ctx context.Context, session Session, orgID, name, description string) (store.Organization, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return store.Organization{}, err
	}
	if !s.Can(role, rbac.ActionManage) {
		return store.Organization{}, errForbidden("Forbidden")
	}
	if strings.TrimSpace(name) == "" {
		return store.Organization{}, errValidation("name is required", nil)
	}
	if err := s.store.UpdateOrganization(ctx, orgID, name, description); err != nil {
		return store.Organization{}, err
	}
	return s.store.GetOrganization(ctx, orgID)
}

func (s *Service) DeleteOrganization(ctx context.Context, session Session, orgID string) error {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !s.Can(role, rbac.ActionControl) {
		return errForbidden("Only the owner can delete an organization")
	}
	return s.store.DeleteOrganization(ctx, orgID)
}

func (s *Service) ListMembers(ctx context.Context, session Session, orgID string) ([]store.Member, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return nil, err
	}
	if !s.Can(role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	return s.store.ListMembers(ctx, orgID)
}

func (s *Service) ChangeMemberRole(ctx context.Context, session Session, orgID, userID, newRole string) error {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !s.Can(role, rbac.ActionManage) {
		return errForbidden("Forbidden")
	}
	if _, ok := allowedMemberRoles[newRole]; !ok {
		return errValidation("invalid role", map[string]any{"role": newRole})
	}
	current, err := s.store.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		return err
	}
	// Granting or revoking ownership is reserved for owners.
	if (current == string(rbac.RoleOwner) || newRole == string(rbac.RoleOwner)) && role != string(rbac.RoleOwner) {
		return errForbidden("Only the owner can change ownership")
	}
	return s.store.UpsertMember(ctx, orgID, userID, newRole)
}

func (s *Service) RemoveMember(ctx context.Context, session Session, orgID, userID string) error {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !s.Can(role, rbac.ActionManage) && session.UserID != userID {
		return errForbidden("Forbidden")
	}
	target, err := s.store.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if target == string(rbac.RoleOwner) {
		return errValidation("the owner cannot be removed; transfer ownership first", nil)
	}
	removed, err := s.store.RemoveMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return errNotFound("Member not found", nil)
	}
	return nil
}

func (s *Service) CreateInvitation(ctx context.Context, session Session, orgID, inviteEmail, inviteRole string) (store.Invitation, string, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return store.Invitation{}, "", err
	}
	if !s.Can(role, rbac.ActionManage) {
		return store.Invitation{}, "", errForbidden("Forbidden")
	}
	inviteEmail = strings.ToLower(strings.TrimSpace(inviteEmail))
	if inviteEmail == "" || !strings.Contains(inviteEmail, "@") {
		return store.Invitation{}, "", errValidation("a valid email is required", nil)
	}
	if _, ok := allowedMemberRoles[inviteRole]; !ok || inviteRole == string(rbac.RoleOwner) {
		return store.Invitation{}, "", errValidation("invalid invitation role", map[string]any{"role": inviteRole})
	}

	token := util.NewToken()
	invitation, err := s.store.InsertInvitation(ctx, store.Invitation{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Email:          inviteEmail,
		Role:           inviteRole,
		TokenHash:      auth.HashToken(token),
		ExpiresAt:      time.Now().Add(s.cfg.InviteTTL),
		CreatedBy:      session.UserID,
	})
	if err != nil {
		return store.Invitation{}, "", err
	}

	if s.mail != nil && s.mail.IsConfigured() {
		org, err := s.store.GetOrganization(ctx, orgID)
		if err == nil {
			acceptURL := fmt.Sprintf("%s/invitations/accept?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
			if err := s.mail.SendInvitationEmail(inviteEmail, org.Name, session.UserName, inviteRole, acceptURL); err != nil {
				s.log.Warn().Err(err).Str("email", inviteEmail).Msg("invitation email failed")
			}
		}
		// Token is delivered by email only.
		return invitation, "", nil
	}
	// No SMTP configured: the caller relays the token out of band.
	return invitation, token, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, session Session, token string) (store.Organization, error) {
	invitation, err := s.store.GetInvitationByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		return store.Organization{}, errNotFound("Invitation not found or expired", nil)
	}
	if !strings.EqualFold(invitation.Email, session.Email) {
		return store.Organization{}, errForbidden("Invitation was issued for a different email")
	}
	if err := s.store.UpsertMember(ctx, invitation.OrganizationID, session.UserID, invitation.Role); err != nil {
		return store.Organization{}, err
	}
	if err := s.store.MarkInvitationAccepted(ctx, invitation.ID); err != nil {
		return store.Organization{}, err
	}
	return s.store.GetOrganization(ctx, invitation.OrganizationID)
}

func (s *Service) ListInvitations(ctx context.Context, session Session, orgID string) ([]store.Invitation, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return nil, err
	}
	if !s.Can(role, rbac.ActionManage) {
		return nil, errForbidden("Forbidden")
	}
	return s.store.ListInvitations(ctx, orgID)
}

func (s *Service) RevokeInvitation(ctx context.Context, session Session, orgID, invitationID string) error {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return err
	}
	if !s.Can(role, rbac.ActionManage) {
		return errForbidden("Forbidden")
	}
	deleted, err := s.store.DeleteInvitation(ctx, orgID, invitationID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Invitation not found", nil)
	}
	return nil
}

func (s *Service) GetSubscription(ctx context.Context, session Session, orgID string) (store.Subscription, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return store.Subscription{}, err
	}
	if !s.Can(role, rbac.ActionRead) {
		return store.Subscription{}, errForbidden("Forbidden")
	}
	return s.store.GetSubscription(ctx, orgID)
}

func (s *Service) UpdateSubscription(ctx context.Context, session Session, orgID, plan, status string, seatLimit int, periodEnd *time.Time) (store.Subscription, error) {
	role, err := s.roleFor(ctx, session, orgID)
	if err != nil {
		return store.Subscription{}, err
	}
	if !s.Can(role, rbac.ActionManage) {
		return store.Subscription{}, errForbidden("Forbidden")
	}
	if plan == "" || status == "" {
		return store.Subscription{}, errValidation("plan and status are required", nil)
	}
	if seatLimit < 1 {
		return store.Subscription{}, errValidation("seat_limit must be at least 1", nil)
	}
	return s.store.UpsertSubscription(ctx, orgID, plan, status, seatLimit, periodEnd)
}

func (s *Service) CreateGallery(ctx context.Context, session Session, name, description, visibility string) (store.Gallery, error) {
	if !s.Can(session.Role, rbac.ActionManage) {
		return store.Gallery{}, errForbidden("Forbidden")
	}
	if strings.TrimSpace(name) == "" {
		return store.Gallery{}, errValidation("name is required", nil)
	}
	if visibility == "" {
		visibility = "organization"
	}
	if _, ok := allowedGalleryVisibility[visibility]; !ok {
		return store.Gallery{}, errValidation("invalid visibility", map[string]any{"visibility": visibility})
	}
	gallery, err := s.store.InsertGallery(ctx, store.Gallery{
		ID:             uuid.NewString(),
		OrganizationID: session.OrgID,
		Name:           name,
		Description:    description,
		Visibility:     visibility,
	})
	if err != nil {
		return store.Gallery{}, err
	}
	if s.search != nil {
		s.search.IndexGallery(search.GalleryRecord{
			ID:             gallery.ID,
			OrganizationID: gallery.OrganizationID,
			Name:           gallery.Name,
			Description:    gallery.Description,
		})
	}
	return gallery, nil
}

func (s *Service) GetGallery(ctx context.Context, session Session, galleryID string) (store.Gallery, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return store.Gallery{}, errForbidden("Forbidden")
	}
	return s.store.GetGallery(ctx, session.OrgID, galleryID)
}

func (s *Service) ListGalleries(ctx context.Context, session Session) ([]store.Gallery, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	return s.store.ListGalleries(ctx, session.OrgID)
}

func (s *Service) UpdateGallery(ctx context.Context, session Session, galleryID, name, description, visibility string) (store.Gallery, error) {
	if !s.Can(session.Role, rbac.ActionManage) {
		return store.Gallery{}, errForbidden("Forbidden")
	}
	if _, ok := allowedGalleryVisibility[visibility]; !ok {
		return store.Gallery{}, errValidation("invalid visibility", map[string]any{"visibility": visibility})
	}
	updated, err := s.store.UpdateGallery(ctx, session.OrgID, galleryID, name, description, visibility)
	if err != nil {
		return store.Gallery{}, err
	}
	if !updated {
		return store.Gallery{}, errNotFound("Gallery not found", nil)
	}
	gallery, err := s.store.GetGallery(ctx, session.OrgID, galleryID)
	if err != nil {
		return store.Gallery{}, err
	}
	if s.search != nil {
		s.search.IndexGallery(search.GalleryRecord{
			ID:             gallery.ID,
			OrganizationID: gallery.OrganizationID,
			Name:           gallery.Name,
			Description:    gallery.Description,
		})
	}
	return gallery, nil
}

func (s *Service) DeleteGallery(ctx context.Context, session Session, galleryID string) error {
	if !s.Can(session.Role, rbac.ActionManage) {
		return errForbidden("Forbidden")
	}
	deleted, err := s.store.DeleteGallery(ctx, session.OrgID, galleryID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Gallery not found", nil)
	}
	if s.search != nil {
		s.search.DeleteGallery(galleryID)
	}
	return nil
}

// AddGalleryProcessor admits a processor into a gallery. Only processors
// with a published snapshot are eligible.
func (s *Service) AddGalleryProcessor(ctx context.Context, session Session, galleryID, processorID string) error {
	if !s.Can(session.Role, rbac.ActionManage) {
		return errForbidden("Forbidden")
	}
	if _, err := s.store.GetGallery(ctx, session.OrgID, galleryID); err != nil {
		return err
	}
	if _, err := s.store.GetProcessor(ctx, session.OrgID, processorID); err != nil {
		return err
	}
	if _, err := s.store.GetPublishedSnapshot(ctx, processorID); err != nil {
		return domainError(422, "NO_PUBLISHED_PLAYBOOK", "Processor has no published playbook", nil)
	}
	return s.store.AddGalleryProcessor(ctx, galleryID, processorID)
}

func (s *Service) RemoveGalleryProcessor(ctx context.Context, session Session, galleryID, processorID string) error {
	if !s.Can(session.Role, rbac.ActionManage) {
		return errForbidden("Forbidden")
	}
	if _, err := s.store.GetGallery(ctx, session.OrgID, galleryID); err != nil {
		return err
	}
	removed, err := s.store.RemoveGalleryProcessor(ctx, galleryID, processorID)
	if err != nil {
		return err
	}
	if !removed {
		return errNotFound("Processor is not in this gallery", nil)
	}
	return nil
}

func (s *Service) ListGalleryProcessors(ctx context.Context, session Session, galleryID string) ([]store.Processor, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden("Forbidden")
	}
	if _, err := s.store.GetGallery(ctx, session.OrgID, galleryID); err != nil {
		return nil, err
	}
	return s.store.ListGalleryProcessors(ctx, galleryID)
}
