package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"validai/api/internal/auth"
	"validai/api/internal/store"
)

func adminSession() Session {
	session := memberSession()
	session.Role = "admin"
	return session
}

func ownerSession() Session {
	session := memberSession()
	session.Role = "owner"
	return session
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"  Widgets & Gadgets!  ", "widgets-gadgets"},
		{"ValidAI 2.0", "validai-2-0"},
		{"---", ""},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOwnerCannotBeRemoved(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: func(ctx context.Context, orgID, userID string) (string, error) {
			if userID == "user-owner" {
				return "owner", nil
			}
			return "member", nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.RemoveMember(context.Background(), adminSession(), "org-1", "user-owner")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

func TestMemberCanRemoveSelf(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	if err := svc.RemoveMember(context.Background(), memberSession(), "org-1", "user-1"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
}

func TestMemberCannotRemoveOthers(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	err := svc.RemoveMember(context.Background(), memberSession(), "org-1", "user-2")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("err = %v, want 403 domain error", err)
	}
}

func TestOnlyOwnerGrantsOwnership(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: func(ctx context.Context, orgID, userID string) (string, error) {
			return "member", nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.ChangeMemberRole(context.Background(), adminSession(), "org-1", "user-2", "owner")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("admin granting ownership: err = %v, want 403", err)
	}

	if err := svc.ChangeMemberRole(context.Background(), ownerSession(), "org-1", "user-2", "owner"); err != nil {
		t.Fatalf("owner granting ownership: %v", err)
	}
}

func TestOnlyOwnerDeletesOrganization(t *testing.T) {
	fs := &fakeStore{
		getMemberRoleFn: func(ctx context.Context, orgID, userID string) (string, error) {
			return "admin", nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.DeleteOrganization(context.Background(), adminSession(), "org-1")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("err = %v, want 403 domain error", err)
	}
}

func TestCreateInvitationReturnsTokenWithoutSMTP(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	inserted, token, err := svc.CreateInvitation(context.Background(), adminSession(), "org-1", "New.Person@Example.com", "member")
	if err != nil {
		t.Fatalf("CreateInvitation: %v", err)
	}
	if token == "" {
		t.Fatalf("no out-of-band token returned when SMTP is not configured")
	}
	if inserted.Email != "new.person@example.com" {
		t.Fatalf("email = %q, want lowercased", inserted.Email)
	}
	if inserted.TokenHash != auth.HashToken(token) {
		t.Fatalf("stored hash does not match the issued token")
	}
	if inserted.TokenHash == token {
		t.Fatalf("raw token was stored")
	}
}

func TestCreateInvitationRejectsOwnerRole(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, _, err := svc.CreateInvitation(context.Background(), adminSession(), "org-1", "a@b.c", "owner")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

func TestAcceptInvitationChecksEmail(t *testing.T) {
	token := "raw-invite-token"
	fs := &fakeStore{
		getInvitationByHashFn: func(ctx context.Context, tokenHash string) (store.Invitation, error) {
			if tokenHash != auth.HashToken(token) {
				return store.Invitation{}, sql.ErrNoRows
			}
			return store.Invitation{ID: "inv-1", OrganizationID: "org-2", Email: "someone-else@example.com", Role: "member"}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.AcceptInvitation(context.Background(), memberSession(), token)
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 403 {
		t.Fatalf("err = %v, want 403 domain error", err)
	}
}

func TestAcceptInvitationUnknownToken(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	_, err := svc.AcceptInvitation(context.Background(), memberSession(), "bogus")
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Status != 404 {
		t.Fatalf("err = %v, want 404 domain error", err)
	}
}

func TestAddGalleryProcessorRequiresPublishedPlaybook(t *testing.T) {
	fs := &fakeStore{
		getGalleryFn: func(ctx context.Context, orgID, galleryID string) (store.Gallery, error) {
			return store.Gallery{ID: galleryID, OrganizationID: orgID}, nil
		},
		getProcessorFn: func(ctx context.Context, orgID, processorID string) (store.Processor, error) {
			return editorProcessor("General"), nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.AddGalleryProcessor(context.Background(), adminSession(), "gal-1", "proc-1")
	var derr *DomainError
	if !errors.As(err, &derr) {
		t.Fatalf("err = %v, want domain error", err)
	}
	if derr.Status != 422 || derr.Code != "NO_PUBLISHED_PLAYBOOK" {
		t.Fatalf("got %d %s, want 422 NO_PUBLISHED_PLAYBOOK", derr.Status, derr.Code)
	}
}

func TestCreateGalleryDefaultsVisibility(t *testing.T) {
	svc, _ := newTestService(&fakeStore{})

	gallery, err := svc.CreateGallery(context.Background(), adminSession(), "Templates", "", "")
	if err != nil {
		t.Fatalf("CreateGallery: %v", err)
	}
	if gallery.Visibility != "organization" {
		t.Fatalf("visibility = %q, want organization", gallery.Visibility)
	}
}
