package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/notifier"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/contentstore"
	"flujos-esign/internal/infrastructure/contentstore/contentstoretest"
	"flujos-esign/internal/infrastructure/identity"
	"flujos-esign/internal/infrastructure/identity/identitytest"
	"flujos-esign/internal/infrastructure/pdfsign"
	"flujos-esign/internal/infrastructure/pdfsign/pdfsigntest"
	redisinfra "flujos-esign/internal/infrastructure/redis"
	"flujos-esign/internal/infrastructure/sigimage"
	"flujos-esign/internal/infrastructure/workspace"
)

// memRequests stores copies of requests and serialises Update per id the
// way the row lock does
type memRequests struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*entity.SignatureRequest
	locks map[uuid.UUID]*sync.Mutex
}

func newMemRequests() *memRequests {
	return &memRequests{
		rows:  map[uuid.UUID]*entity.SignatureRequest{},
		locks: map[uuid.UUID]*sync.Mutex{},
	}
}

func cloneRequest(r *entity.SignatureRequest) *entity.SignatureRequest {
	c := *r
	c.Documents = make([]entity.WorkflowDocument, len(r.Documents))
	for i, d := range r.Documents {
		if d.RepoNode != nil {
			node := *d.RepoNode
			d.RepoNode = &node
		}
		d.PDFBytes = append([]byte(nil), d.PDFBytes...)
		d.MissingSignatures = append([]string(nil), d.MissingSignatures...)
		c.Documents[i] = d
	}
	return &c
}

func (m *memRequests) Create(_ context.Context, req *entity.SignatureRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[req.ID] = cloneRequest(req)
	m.locks[req.ID] = &sync.Mutex{}
	return nil
}

func (m *memRequests) FindByID(_ context.Context, id uuid.UUID) (*entity.SignatureRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, entity.NotFoundError("signature request %s not found", id)
	}
	return cloneRequest(r), nil
}

func (m *memRequests) List(_ context.Context, filter entity.RequestFilter) ([]*entity.SignatureRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.SignatureRequest
	for _, r := range m.rows {
		if filter.Creator != "" && r.Creator != filter.Creator {
			continue
		}
		if _, ok := r.SlotFor(filter.Recipient); filter.Recipient != "" && !ok {
			continue
		}
		if filter.State != "" && r.State != filter.State {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	return out, nil
}

func (m *memRequests) Update(ctx context.Context, id uuid.UUID, fn repository.UpdateFunc) (*entity.SignatureRequest, error) {
	m.mu.Lock()
	lock, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return nil, entity.NotFoundError("signature request %s not found", id)
	}

	lock.Lock()
	defer lock.Unlock()

	req, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx, req); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rows[id] = cloneRequest(req)
	m.mu.Unlock()
	return req, nil
}

func (m *memRequests) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return entity.NotFoundError("signature request %s not found", id)
	}
	delete(m.rows, id)
	return nil
}

type memProfiles struct {
	mu   sync.Mutex
	rows map[string]entity.SignatureProfile
}

func (m *memProfiles) FindByLogin(_ context.Context, login string) (*entity.SignatureProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[login]
	if !ok {
		return nil, entity.NotFoundError("no signature profile for %s", login)
	}
	return &p, nil
}

func (m *memProfiles) Upsert(_ context.Context, p *entity.SignatureProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.Login] = *p
	return nil
}

type cancellation struct {
	resID string
	users []string
}

// recordingNotifier keeps every call for assertions
type recordingNotifier struct {
	mu       sync.Mutex
	todos    []notifier.Activity
	messages []notifier.Message
	cancels  []cancellation
}

func (n *recordingNotifier) NotifyToDo(_ context.Context, a notifier.Activity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.todos = append(n.todos, a)
	return nil
}

func (n *recordingNotifier) NotifyMessage(_ context.Context, m notifier.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, m)
	return nil
}

func (n *recordingNotifier) CancelPending(_ context.Context, _ string, resID string, users []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels = append(n.cancels, cancellation{resID: resID, users: users})
	return nil
}

func (n *recordingNotifier) activities(user string, kind notifier.ActivityKind) []notifier.Activity {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Activity
	for _, a := range n.todos {
		if a.User == user && a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (n *recordingNotifier) messagesTo(user string) []notifier.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifier.Message
	for _, m := range n.messages {
		for _, r := range m.Recipients {
			if r == user {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	srv      *contentstoretest.Server
	cfg      *config.Config
	store    contentstore.Client
	redis    *miniredis.Miniredis
	repo     *memRequests
	profiles *memProfiles
	notes    *recordingNotifier
	uc       *workflowUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zap.NewNop()

	srv := contentstoretest.NewServer(t)
	cfg := srv.Config()
	cfg.Workspace.BasePath = t.TempDir()

	mr := miniredis.RunT(t)
	rc := redisinfra.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), logger)

	ws, err := workspace.NewManager(cfg, logger)
	require.NoError(t, err)

	h := &harness{
		srv:      srv,
		cfg:      cfg,
		store:    contentstore.NewClient(cfg, nil, logger),
		redis:    mr,
		repo:     newMemRequests(),
		profiles: &memProfiles{rows: map[string]entity.SignatureProfile{}},
		notes:    &recordingNotifier{},
	}

	sessions := NewSessionFactory(cfg, h.profiles, identity.NewLoader(logger),
		sigimage.NewComposer(cfg, logger), pdfsign.NewSigner(logger), ws, logger)
	h.uc = NewWorkflowUsecase(cfg, h.repo,
		NewFolderMaterializer(cfg, h.store, rc, logger),
		NewDocumentReconciler(cfg, h.store, logger),
		sessions, h.store, h.notes, logger).(*workflowUsecase)
	h.uc.now = func() time.Time { return testNow }
	return h
}

// addSigner stores a profile with a fresh certificate for login
func (h *harness) addSigner(t *testing.T, login string, kt identitytest.KeyType) *identitytest.Bundle {
	t.Helper()
	b := identitytest.New(t, login, kt)
	require.NoError(t, h.profiles.Upsert(context.Background(), &entity.SignatureProfile{
		Login:          login,
		Name:           login,
		Email:          login + "@example.com",
		PKCS12:         b.PKCS12,
		Passphrase:     b.Passphrase,
		SignatureImage: pdfsigntest.SignatureImagePNG(t, 240, 90),
	}))
	return b
}

func actor(login string) entity.Actor {
	return entity.Actor{Login: login}
}

func localInput(t *testing.T, name string, pages int, recipients ...entity.RecipientInput) *entity.RequestInput {
	t.Helper()
	return &entity.RequestInput{
		Name:           name,
		DocumentSource: entity.SourceLocal,
		Recipients:     recipients,
		Documents: []entity.DocumentInput{
			{Name: "contract.pdf", Content: pdfsigntest.Build(t, pdfsigntest.Options{Pages: pages})},
		},
	}
}

// sentRequest creates and sends a request from ana
func (h *harness) sentRequest(t *testing.T, in *entity.RequestInput) *entity.SignatureRequest {
	t.Helper()
	ctx := context.Background()
	req, err := h.uc.Create(ctx, actor("ana"), in)
	require.NoError(t, err)
	req, err = h.uc.SendForSignature(ctx, req.ID, actor("ana"))
	require.NoError(t, err)
	return req
}

// node returns the stored repository node of doc
func (h *harness) node(t *testing.T, doc entity.WorkflowDocument) contentstoretest.Node {
	t.Helper()
	require.NotNil(t, doc.RepoNode)
	node, ok := h.srv.Node(doc.RepoNode.NodeID)
	require.True(t, ok)
	return node
}
