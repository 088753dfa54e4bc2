package app

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"validai/api/internal/auth"
	"validai/api/internal/authpw"
	"validai/api/internal/blob"
	"validai/api/internal/config"
	"validai/api/internal/confighist"
	"validai/api/internal/email"
	"validai/api/internal/export"
	"validai/api/internal/metrics"
	"validai/api/internal/ordering"
	"validai/api/internal/rbac"
	"validai/api/internal/runs"
	"validai/api/internal/search"
	"validai/api/internal/store"
	"validai/api/internal/util"
)

// Session is the authenticated caller. OrgID and Role describe the
// membership the token was issued for; Role is re-read from the store on
// every request so that role changes take effect immediately.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	OrgID        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)

	CreateOrganization(ctx context.Context, name, slug, description string) (store.Organization, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	UpdateOrganization(ctx context.Context, orgID, name, description string) error
	DeleteOrganization(ctx context.Context, orgID string) error
	ListUserOrganizations(ctx context.Context, userID string) ([]store.Organization, error)

	UpsertMember(ctx context.Context, orgID, userID, role string) error
	RemoveMember(ctx context.Context, orgID, userID string) (bool, error)
	GetMemberRole(ctx context.Context, orgID, userID string) (string, error)
	ListMembers(ctx context.Context, orgID string) ([]store.Member, error)
	MemberCount(ctx context.Context, orgID string) (int, error)

	UpsertSubscription(ctx context.Context, orgID, plan, status string, seatLimit int, periodEnd *time.Time) (store.Subscription, error)
	GetSubscription(ctx context.Context, orgID string) (store.Subscription, error)

	InsertInvitation(ctx context.Context, invitation store.Invitation) (store.Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (store.Invitation, error)
	MarkInvitationAccepted(ctx context.Context, invitationID string) error
	ListInvitations(ctx context.Context, orgID string) ([]store.Invitation, error)
	DeleteInvitation(ctx context.Context, orgID, invitationID string) (bool, error)

	InsertGallery(ctx context.Context, gallery store.Gallery) (store.Gallery, error)
	GetGallery(ctx context.Context, orgID, galleryID string) (store.Gallery, error)
	ListGalleries(ctx context.Context, orgID string) ([]store.Gallery, error)
	UpdateGallery(ctx context.Context, orgID, galleryID, name, description, visibility string) (bool, error)
	DeleteGallery(ctx context.Context, orgID, galleryID string) (bool, error)
	AddGalleryProcessor(ctx context.Context, galleryID, processorID string) error
	RemoveGalleryProcessor(ctx context.Context, galleryID, processorID string) (bool, error)
	ListGalleryProcessors(ctx context.Context, galleryID string) ([]store.Processor, error)

	InsertProcessor(ctx context.Context, processor store.Processor) (store.Processor, error)
	GetProcessor(ctx context.Context, orgID, processorID string) (store.Processor, error)
	ListProcessors(ctx context.Context, orgID string) ([]store.Processor, error)
	UpdateProcessor(ctx context.Context, orgID, processorID, name, description, status string) (bool, error)
	DeleteProcessor(ctx context.Context, orgID, processorID string) (bool, error)
	UpdateAreaConfiguration(ctx context.Context, processorID string, areas []ordering.Area) error
	RenameArea(ctx context.Context, processorID, oldName, newName string, areas []ordering.Area) error
	DeleteArea(ctx context.Context, processorID, areaName, fallbackArea string, areas []ordering.Area) error

	InsertOperation(ctx context.Context, operation store.Operation) (store.Operation, error)
	GetOperation(ctx context.Context, processorID, operationID string) (store.Operation, error)
	ListOperations(ctx context.Context, processorID string) ([]store.Operation, error)
	ListAreaOperations(ctx context.Context, processorID, area string) ([]store.Operation, error)
	UpdateOperation(ctx context.Context, processorID, operationID, name, operationType, prompt string) (bool, error)
	UpdateOperationPlacement(ctx context.Context, processorID, operationID, area string, position float64) (bool, error)
	DeleteOperation(ctx context.Context, processorID, operationID string) (bool, error)
	RenumberArea(ctx context.Context, processorID, area string, renumbered []ordering.Operation) error

	CreateSnapshot(ctx context.Context, snapshot store.Snapshot, publish bool) (store.Snapshot, error)
	SetPublished(ctx context.Context, processorID, snapshotID string, published bool) error
	UpdateSnapshotVisibility(ctx context.Context, processorID, snapshotID, visibility string) (bool, error)
	GetSnapshot(ctx context.Context, processorID, snapshotID string) (store.Snapshot, error)
	GetPublishedSnapshot(ctx context.Context, processorID string) (store.Snapshot, error)
	ListSnapshots(ctx context.Context, processorID string) ([]store.Snapshot, error)
	DeleteSnapshot(ctx context.Context, processorID, snapshotID string) (bool, error)
	ReplacePlaybook(ctx context.Context, processorID, snapshotID string, config store.PlaybookConfig) error

	InsertDocument(ctx context.Context, document store.Document) (store.Document, error)
	GetDocument(ctx context.Context, orgID, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, orgID string) ([]store.Document, error)
	DeleteDocument(ctx context.Context, orgID, documentID string) (bool, error)

	InsertRun(ctx context.Context, run store.Run) (store.Run, error)
	GetRun(ctx context.Context, runID string) (store.Run, error)
	ListRuns(ctx context.Context, processorID string) ([]store.Run, error)
	ListOperationResults(ctx context.Context, runID string) ([]store.OperationResult, error)

	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type accountService interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (store.User, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (store.User, error)
}

type historyService interface {
	EnsureProcessorRepo(processorID string, initial store.PlaybookConfig, author string) error
	CommitPlaybook(processorID string, config store.PlaybookConfig, author, message string) (confighist.CommitInfo, error)
	GetPlaybookByHash(processorID, hash string) (store.PlaybookConfig, error)
	History(processorID string, limit int) ([]confighist.CommitInfo, error)
	TagVersion(processorID, name string) error
}

type runEngine interface {
	Enqueue(run store.Run, document store.Document, config store.PlaybookConfig)
}

type blobStore interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, path string) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexProcessor(p search.ProcessorRecord)
	IndexGallery(g search.GalleryRecord)
	IndexOperation(o search.OperationRecord)
	DeleteProcessor(id string)
	DeleteGallery(id string)
	DeleteOperation(id string)
}

type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type mailService interface {
	IsConfigured() bool
	SendInvitationEmail(to, organizationName, inviterName, role, acceptURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	accounts accountService
	mail     mailService
	blobs    blobStore
	search   searchIndex
	history  historyService
	engine   runEngine
	exporter exportService
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func New(
	cfg config.Config,
	pg *store.PostgresStore,
	sessions refreshStore,
	accounts *authpw.Service,
	mail *email.Service,
	blobs *blob.Store,
	searcher *search.Service,
	history *confighist.Service,
	engine *runs.Engine,
	exporter *export.Service,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    pg,
		sessions: sessions,
		metrics:  m,
		log:      log,
	}
	// Optional collaborators stay nil interfaces when unset so the nil
	// checks in the handlers hold.
	if accounts != nil {
		svc.accounts = accounts
	}
	if mail != nil {
		svc.mail = mail
	}
	if blobs != nil {
		svc.blobs = blobs
	}
	if searcher != nil {
		svc.search = searcher
	}
	if history != nil {
		svc.history = history
	}
	if engine != nil {
		svc.engine = engine
	}
	if exporter != nil {
		svc.exporter = exporter
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// SignUp registers a new account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	if err != nil {
		return Session{}, errValidation(err.Error(), nil)
	}
	return s.issueSession(ctx, user, "")
}

// SignIn authenticates credentials and issues a session for orgID, or for
// the user's first organization when orgID is empty.
func (s *Service) SignIn(ctx context.Context, email, password, orgID string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", err.Error(), nil)
	}
	return s.issueSession(ctx, user, orgID)
}

func (s *Service) Refresh(ctx context.Context, refreshToken, orgID string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user, orgID)
}

func (s *Service) issueSession(ctx context.Context, user store.User, orgID string) (Session, error) {
	if orgID == "" {
		orgs, err := s.store.ListUserOrganizations(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
		if len(orgs) > 0 {
			orgID = orgs[0].ID
		}
	}

	role := ""
	if orgID != "" {
		var err error
		role, err = s.store.GetMemberRole(ctx, orgID, user.ID)
		if err != nil {
			return Session{}, errForbidden("Not a member of this organization")
		}
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Org:  orgID,
		Role: role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		OrgID:        orgID,
		Role:         role,
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

	role := ""
	if claims.Org != "" {
		role, err = s.store.GetMemberRole(ctx, claims.Org, user.ID)
		if err != nil {
			return Session{}, auth.ErrInvalidToken
		}
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		OrgID:     claims.Org,
		Role:      role,
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

// roleFor resolves the caller's role in orgID. The common case is the
// session's own organization; cross-organization access re-reads membership.
func (s *Service) roleFor(ctx context.Context, session Session, orgID string) (string, error) {
	if orgID == session.OrgID {
		return session.Role, nil
	}
	role, err := s.store.GetMemberRole(ctx, orgID, session.UserID)
	if err != nil {
		return "", errForbidden("Not a member of this organization")
	}
	return role, nil
}
