package app

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"validai/api/internal/config"
	"validai/api/internal/confighist"
	"validai/api/internal/export"
	"validai/api/internal/metrics"
	"validai/api/internal/ordering"
	"validai/api/internal/search"
	"validai/api/internal/store"
)

// fakeStore implements dataStore. Methods delegate to the matching func
// field when set; mutation counters track writes for no-write assertions.
type fakeStore struct {
	getUserByIDFn           func(context.Context, string) (store.User, error)
	getMemberRoleFn         func(context.Context, string, string) (string, error)
	listUserOrgsFn          func(context.Context, string) ([]store.Organization, error)
	getProcessorFn          func(context.Context, string, string) (store.Processor, error)
	listAreaOperationsFn    func(context.Context, string, string) ([]store.Operation, error)
	getOperationFn          func(context.Context, string, string) (store.Operation, error)
	updatePlacementFn       func(context.Context, string, string, string, float64) (bool, error)
	insertOperationFn       func(context.Context, store.Operation) (store.Operation, error)
	listOperationsFn        func(context.Context, string) ([]store.Operation, error)
	createSnapshotFn        func(context.Context, store.Snapshot, bool) (store.Snapshot, error)
	getPublishedSnapshotFn  func(context.Context, string) (store.Snapshot, error)
	getSnapshotFn           func(context.Context, string, string) (store.Snapshot, error)
	setPublishedFn          func(context.Context, string, string, bool) error
	replacePlaybookFn       func(context.Context, string, string, store.PlaybookConfig) error
	updateAreaConfigFn      func(context.Context, string, []ordering.Area) error
	renameAreaFn            func(context.Context, string, string, string, []ordering.Area) error
	deleteAreaFn            func(context.Context, string, string, string, []ordering.Area) error
	renumberAreaFn          func(context.Context, string, string, []ordering.Operation) error
	getInvitationByHashFn   func(context.Context, string) (store.Invitation, error)
	getDocumentFn           func(context.Context, string, string) (store.Document, error)
	insertDocumentFn        func(context.Context, store.Document) (store.Document, error)
	insertRunFn             func(context.Context, store.Run) (store.Run, error)
	getGalleryFn            func(context.Context, string, string) (store.Gallery, error)
	pingFn                  func(context.Context) error
	isAccessTokenRevokedFn  func(context.Context, string) (bool, error)

	placementWrites  int
	areaConfigWrites int
	renumberCalls    int
	snapshotsCreated int
	deleteAreaCalls  int
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Email: userID + "@example.com", DisplayName: "User"}, nil
}

func (f *fakeStore) CreateOrganization(context.Context, string, string, string) (store.Organization, error) {
	return store.Organization{ID: "org-new"}, nil
}
func (f *fakeStore) GetOrganization(ctx context.Context, orgID string) (store.Organization, error) {
	return store.Organization{ID: orgID, Name: "Org"}, nil
}
func (f *fakeStore) UpdateOrganization(context.Context, string, string, string) error { return nil }
func (f *fakeStore) DeleteOrganization(context.Context, string) error                 { return nil }
func (f *fakeStore) ListUserOrganizations(ctx context.Context, userID string) ([]store.Organization, error) {
	if f.listUserOrgsFn != nil {
		return f.listUserOrgsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) UpsertMember(context.Context, string, string, string) error { return nil }
func (f *fakeStore) RemoveMember(context.Context, string, string) (bool, error) { return true, nil }
func (f *fakeStore) GetMemberRole(ctx context.Context, orgID, userID string) (string, error) {
	if f.getMemberRoleFn != nil {
		return f.getMemberRoleFn(ctx, orgID, userID)
	}
	return "member", nil
}
func (f *fakeStore) ListMembers(context.Context, string) ([]store.Member, error) { return nil, nil }
func (f *fakeStore) MemberCount(context.Context, string) (int, error)            { return 1, nil }

func (f *fakeStore) UpsertSubscription(context.Context, string, string, string, int, *time.Time) (store.Subscription, error) {
	return store.Subscription{}, nil
}
func (f *fakeStore) GetSubscription(context.Context, string) (store.Subscription, error) {
	return store.Subscription{}, sql.ErrNoRows
}

func (f *fakeStore) InsertInvitation(ctx context.Context, invitation store.Invitation) (store.Invitation, error) {
	return invitation, nil
}
func (f *fakeStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (store.Invitation, error) {
	if f.getInvitationByHashFn != nil {
		return f.getInvitationByHashFn(ctx, tokenHash)
	}
	return store.Invitation{}, sql.ErrNoRows
}
func (f *fakeStore) MarkInvitationAccepted(context.Context, string) error { return nil }
func (f *fakeStore) ListInvitations(context.Context, string) ([]store.Invitation, error) {
	return nil, nil
}
func (f *fakeStore) DeleteInvitation(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) InsertGallery(ctx context.Context, gallery store.Gallery) (store.Gallery, error) {
	return gallery, nil
}
func (f *fakeStore) GetGallery(ctx context.Context, orgID, galleryID string) (store.Gallery, error) {
	if f.getGalleryFn != nil {
		return f.getGalleryFn(ctx, orgID, galleryID)
	}
	return store.Gallery{}, sql.ErrNoRows
}
func (f *fakeStore) ListGalleries(context.Context, string) ([]store.Gallery, error) { return nil, nil }
func (f *fakeStore) UpdateGallery(context.Context, string, string, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) DeleteGallery(context.Context, string, string) (bool, error) { return true, nil }
func (f *fakeStore) AddGalleryProcessor(context.Context, string, string) error   { return nil }
func (f *fakeStore) RemoveGalleryProcessor(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) ListGalleryProcessors(context.Context, string) ([]store.Processor, error) {
	return nil, nil
}

func (f *fakeStore) InsertProcessor(ctx context.Context, processor store.Processor) (store.Processor, error) {
	return processor, nil
}
func (f *fakeStore) GetProcessor(ctx context.Context, orgID, processorID string) (store.Processor, error) {
	if f.getProcessorFn != nil {
		return f.getProcessorFn(ctx, orgID, processorID)
	}
	return store.Processor{}, sql.ErrNoRows
}
func (f *fakeStore) ListProcessors(context.Context, string) ([]store.Processor, error) {
	return nil, nil
}
func (f *fakeStore) UpdateProcessor(context.Context, string, string, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) DeleteProcessor(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) UpdateAreaConfiguration(ctx context.Context, processorID string, areas []ordering.Area) error {
	f.areaConfigWrites++
	if f.updateAreaConfigFn != nil {
		return f.updateAreaConfigFn(ctx, processorID, areas)
	}
	return nil
}
func (f *fakeStore) RenameArea(ctx context.Context, processorID, oldName, newName string, areas []ordering.Area) error {
	if f.renameAreaFn != nil {
		return f.renameAreaFn(ctx, processorID, oldName, newName, areas)
	}
	return nil
}
func (f *fakeStore) DeleteArea(ctx context.Context, processorID, areaName, fallbackArea string, areas []ordering.Area) error {
	f.deleteAreaCalls++
	if f.deleteAreaFn != nil {
		return f.deleteAreaFn(ctx, processorID, areaName, fallbackArea, areas)
	}
	return nil
}

func (f *fakeStore) InsertOperation(ctx context.Context, operation store.Operation) (store.Operation, error) {
	if f.insertOperationFn != nil {
		return f.insertOperationFn(ctx, operation)
	}
	return operation, nil
}
func (f *fakeStore) GetOperation(ctx context.Context, processorID, operationID string) (store.Operation, error) {
	if f.getOperationFn != nil {
		return f.getOperationFn(ctx, processorID, operationID)
	}
	return store.Operation{}, sql.ErrNoRows
}
func (f *fakeStore) ListOperations(ctx context.Context, processorID string) ([]store.Operation, error) {
	if f.listOperationsFn != nil {
		return f.listOperationsFn(ctx, processorID)
	}
	return nil, nil
}
func (f *fakeStore) ListAreaOperations(ctx context.Context, processorID, area string) ([]store.Operation, error) {
	if f.listAreaOperationsFn != nil {
		return f.listAreaOperationsFn(ctx, processorID, area)
	}
	return nil, nil
}
func (f *fakeStore) UpdateOperation(context.Context, string, string, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) UpdateOperationPlacement(ctx context.Context, processorID, operationID, area string, position float64) (bool, error) {
	f.placementWrites++
	if f.updatePlacementFn != nil {
		return f.updatePlacementFn(ctx, processorID, operationID, area, position)
	}
	return true, nil
}
func (f *fakeStore) DeleteOperation(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) RenumberArea(ctx context.Context, processorID, area string, renumbered []ordering.Operation) error {
	f.renumberCalls++
	if f.renumberAreaFn != nil {
		return f.renumberAreaFn(ctx, processorID, area, renumbered)
	}
	return nil
}

func (f *fakeStore) CreateSnapshot(ctx context.Context, snapshot store.Snapshot, publish bool) (store.Snapshot, error) {
	f.snapshotsCreated++
	if f.createSnapshotFn != nil {
		return f.createSnapshotFn(ctx, snapshot, publish)
	}
	snapshot.VersionNumber = f.snapshotsCreated
	snapshot.IsPublished = publish
	return snapshot, nil
}
func (f *fakeStore) SetPublished(ctx context.Context, processorID, snapshotID string, published bool) error {
	if f.setPublishedFn != nil {
		return f.setPublishedFn(ctx, processorID, snapshotID, published)
	}
	return nil
}
func (f *fakeStore) UpdateSnapshotVisibility(context.Context, string, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) GetSnapshot(ctx context.Context, processorID, snapshotID string) (store.Snapshot, error) {
	if f.getSnapshotFn != nil {
		return f.getSnapshotFn(ctx, processorID, snapshotID)
	}
	return store.Snapshot{}, sql.ErrNoRows
}
func (f *fakeStore) GetPublishedSnapshot(ctx context.Context, processorID string) (store.Snapshot, error) {
	if f.getPublishedSnapshotFn != nil {
		return f.getPublishedSnapshotFn(ctx, processorID)
	}
	return store.Snapshot{}, sql.ErrNoRows
}
func (f *fakeStore) ListSnapshots(context.Context, string) ([]store.Snapshot, error) {
	return nil, nil
}
func (f *fakeStore) DeleteSnapshot(context.Context, string, string) (bool, error) {
	return true, nil
}
func (f *fakeStore) ReplacePlaybook(ctx context.Context, processorID, snapshotID string, config store.PlaybookConfig) error {
	if f.replacePlaybookFn != nil {
		return f.replacePlaybookFn(ctx, processorID, snapshotID, config)
	}
	return nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, document store.Document) (store.Document, error) {
	if f.insertDocumentFn != nil {
		return f.insertDocumentFn(ctx, document)
	}
	return document, nil
}
func (f *fakeStore) GetDocument(ctx context.Context, orgID, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, orgID, documentID)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) ListDocuments(context.Context, string) ([]store.Document, error) {
	return nil, nil
}
func (f *fakeStore) DeleteDocument(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) InsertRun(ctx context.Context, run store.Run) (store.Run, error) {
	if f.insertRunFn != nil {
		return f.insertRunFn(ctx, run)
	}
	return run, nil
}
func (f *fakeStore) GetRun(context.Context, string) (store.Run, error) {
	return store.Run{}, sql.ErrNoRows
}
func (f *fakeStore) ListRuns(context.Context, string) ([]store.Run, error) { return nil, nil }
func (f *fakeStore) ListOperationResults(context.Context, string) ([]store.OperationResult, error) {
	return nil, nil
}

func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

type fakeSessions struct {
	saved   map[string]store.User
	revoked []string
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	if f.saved == nil {
		f.saved = make(map[string]store.User)
	}
	f.saved[tokenHash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	user, ok := f.saved[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.revoked = append(f.revoked, tokenHash)
	delete(f.saved, tokenHash)
	return nil
}

type fakeHistory struct {
	commits []string
	tags    []string
}

func (f *fakeHistory) EnsureProcessorRepo(string, store.PlaybookConfig, string) error { return nil }
func (f *fakeHistory) CommitPlaybook(processorID string, config store.PlaybookConfig, author, message string) (confighist.CommitInfo, error) {
	f.commits = append(f.commits, message)
	return confighist.CommitInfo{Hash: "abc1234", Message: message, Author: author}, nil
}
func (f *fakeHistory) GetPlaybookByHash(string, string) (store.PlaybookConfig, error) {
	return store.PlaybookConfig{}, nil
}
func (f *fakeHistory) History(string, int) ([]confighist.CommitInfo, error) { return nil, nil }
func (f *fakeHistory) TagVersion(processorID, name string) error {
	f.tags = append(f.tags, name)
	return nil
}

type fakeEngine struct {
	enqueued []store.Run
}

func (f *fakeEngine) Enqueue(run store.Run, document store.Document, config store.PlaybookConfig) {
	f.enqueued = append(f.enqueued, run)
}

type fakeSearch struct {
	indexedProcessors []search.ProcessorRecord
	deleted           []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexProcessor(p search.ProcessorRecord) {
	f.indexedProcessors = append(f.indexedProcessors, p)
}
func (f *fakeSearch) IndexGallery(search.GalleryRecord)     {}
func (f *fakeSearch) IndexOperation(search.OperationRecord) {}
func (f *fakeSearch) DeleteProcessor(id string)             { f.deleted = append(f.deleted, id) }
func (f *fakeSearch) DeleteGallery(string)                  {}
func (f *fakeSearch) DeleteOperation(string)                {}

type stubExporter struct {
	result *export.Result
	err    error
}

func (s *stubExporter) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &export.Result{Data: []byte("<html></html>"), Filename: "playbook.html", MimeType: "text/html; charset=utf-8"}, nil
}

func memberSession() Session {
	return Session{
		UserID:   "user-1",
		UserName: "Avery",
		Email:    "avery@example.com",
		OrgID:    "org-1",
		Role:     "member",
	}
}

func viewerSession() Session {
	session := memberSession()
	session.Role = "viewer"
	return session
}

func newTestService(fs *fakeStore) (*Service, *fakeHistory) {
	history := &fakeHistory{}
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  30 * 24 * time.Hour,
			InviteTTL:   7 * 24 * time.Hour,
		},
		store:    fs,
		sessions: &fakeSessions{},
		history:  history,
		metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
		log:      zerolog.Nop(),
	}, history
}
