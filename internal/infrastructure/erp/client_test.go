package erp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/notifier"
	redisinfra "flujos-esign/internal/infrastructure/redis"
)

type recordedRequest struct {
	path string
	auth string
	body map[string]interface{}
}

type fakeERP struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
}

func (f *fakeERP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	user, pass, _ := r.BasicAuth()

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{path: r.URL.Path, auth: user + ":" + pass, body: body})
	status := f.status
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{}`))
}

func (f *fakeERP) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, enabled bool) (*Client, *fakeERP, *miniredis.Miniredis) {
	t.Helper()
	fake := &fakeERP{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		ERP: config.ERPConfig{
			Enabled:  enabled,
			BaseURL:  srv.URL,
			Company:  "Flujos SA",
			Username: "erp",
			Password: "pw",
			Timeout:  5,
		},
		Workflow: config.WorkflowConfig{DedupWindowHours: 24},
	}
	return NewClient(cfg, redisinfra.NewFromClient(rdb, zap.NewNop()), zap.NewNop()), fake, mr
}

func todo(user string) notifier.Activity {
	return notifier.Activity{
		ResModel: "signature.request",
		ResID:    "req-1",
		User:     user,
		Kind:     notifier.ActivityToDo,
		Summary:  "Sign Contract",
		Deadline: time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestNotifyToDo_PostsActivity(t *testing.T) {
	c, fake, _ := newTestClient(t, true)

	require.NoError(t, c.NotifyToDo(context.Background(), todo("ana")))

	reqs := fake.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/ODataV4/Company('Flujos SA')/Api_FlujosActivities", reqs[0].path)
	assert.Equal(t, "erp:pw", reqs[0].auth)
	assert.Equal(t, "ana", reqs[0].body["user"])
	assert.Equal(t, "todo", reqs[0].body["activityType"])
	assert.Equal(t, "2026-03-08", reqs[0].body["deadline"])
}

func TestNotifyToDo_DeduplicatesWithinWindow(t *testing.T) {
	c, fake, mr := newTestClient(t, true)
	ctx := context.Background()

	require.NoError(t, c.NotifyToDo(ctx, todo("ana")))
	require.NoError(t, c.NotifyToDo(ctx, todo("ana")))
	require.NoError(t, c.NotifyToDo(ctx, todo("luis")))
	assert.Len(t, fake.all(), 2)

	mr.FastForward(25 * time.Hour)
	require.NoError(t, c.NotifyToDo(ctx, todo("ana")))
	assert.Len(t, fake.all(), 3)
}

func TestNotifyToDo_FailureReleasesDedupKey(t *testing.T) {
	c, fake, mr := newTestClient(t, true)
	fake.status = http.StatusInternalServerError

	err := c.NotifyToDo(context.Background(), todo("ana"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
	assert.Empty(t, mr.Keys())
}

func TestCancelPending_ClearsDedupKeys(t *testing.T) {
	c, fake, mr := newTestClient(t, true)
	ctx := context.Background()

	require.NoError(t, c.NotifyToDo(ctx, todo("ana")))
	require.NoError(t, c.NotifyToDo(ctx, todo("luis")))
	require.Len(t, mr.Keys(), 2)

	require.NoError(t, c.CancelPending(ctx, "signature.request", "req-1", []string{"ana"}))
	assert.Len(t, mr.Keys(), 1)

	require.NoError(t, c.CancelPending(ctx, "signature.request", "req-1", nil))
	assert.Empty(t, mr.Keys())

	reqs := fake.all()
	require.Len(t, reqs, 4)
	assert.Equal(t, "/ODataV4/Company('Flujos SA')/Api_FlujosActivityCancellations", reqs[2].path)
	assert.Equal(t, "ana", reqs[2].body["users"])
	assert.Equal(t, "", reqs[3].body["users"])
}

func TestNotifyMessage_Internal(t *testing.T) {
	c, fake, _ := newTestClient(t, true)

	require.NoError(t, c.NotifyMessage(context.Background(), notifier.Message{
		ResModel:   "signature.request",
		ResID:      "req-1",
		Recipients: []string{"ana", "luis"},
		Subject:    "Signature requested",
		Body:       "Please sign",
	}))

	reqs := fake.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "ana,luis", reqs[0].body["recipients"])
	assert.Equal(t, true, reqs[0].body["internal"])
}

func TestDisabled_OnlyLogs(t *testing.T) {
	c, fake, _ := newTestClient(t, false)
	ctx := context.Background()

	require.NoError(t, c.NotifyToDo(ctx, todo("ana")))
	require.NoError(t, c.NotifyMessage(ctx, notifier.Message{ResID: "req-1"}))
	require.NoError(t, c.CancelPending(ctx, "signature.request", "req-1", nil))
	assert.Empty(t, fake.all())
}
