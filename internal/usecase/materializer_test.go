package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flujos-esign/internal/domain/entity"
	redisinfra "flujos-esign/internal/infrastructure/redis"
)

func TestFolderMaterializer_CreatesAndIndexes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	folder, err := h.uc.materializer.Ensure(ctx, "ana", "Q3: offers/final")
	require.NoError(t, err)

	node, ok := h.srv.FindPath("Sites/Flujos/ana/Q3_ offers_final")
	require.True(t, ok)
	assert.Equal(t, node.ID, folder.NodeID)
	assert.True(t, node.IsFolder)
	assert.Contains(t, node.Description, "Sites/Flujos/ana")

	key := redisinfra.Key("folder", node.ParentID, "Q3_ offers_final")
	cached, err := h.redis.Get(key)
	require.NoError(t, err)
	assert.Equal(t, node.ID, cached)

	calls := h.srv.Calls("GET children")
	again, err := h.uc.materializer.Ensure(ctx, "ana", "Q3: offers/final")
	require.NoError(t, err)
	assert.Equal(t, folder.NodeID, again.NodeID)
	assert.Equal(t, calls, h.srv.Calls("GET children"))
	assert.Equal(t, 4, h.srv.Calls("POST children"))
}

func TestFolderMaterializer_ReusesExistingFolders(t *testing.T) {
	h := newHarness(t)
	sites := h.srv.AddFolder("-root-", "Sites")
	flujos := h.srv.AddFolder(sites.ID, "Flujos")

	_, err := h.uc.materializer.Ensure(context.Background(), "ana", "Contract")
	require.NoError(t, err)

	assert.Len(t, h.srv.Children(sites.ID, "Flujos"), 1)
	assert.Len(t, h.srv.Children(flujos.ID, "ana"), 1)
	assert.Equal(t, 2, h.srv.Calls("POST children"))
}

func TestFolderMaterializer_StaleIndexIsRewalked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	folder, err := h.uc.materializer.Ensure(ctx, "ana", "Contract")
	require.NoError(t, err)

	node, ok := h.srv.FindPath("Sites/Flujos/ana/Contract")
	require.True(t, ok)
	key := redisinfra.Key("folder", node.ParentID, "Contract")
	require.NoError(t, h.redis.Set(key, "node-9999"))

	again, err := h.uc.materializer.Ensure(ctx, "ana", "Contract")
	require.NoError(t, err)
	assert.Equal(t, folder.NodeID, again.NodeID)
	assert.Equal(t, 4, h.srv.Calls("POST children"))

	cached, err := h.redis.Get(key)
	require.NoError(t, err)
	assert.Equal(t, folder.NodeID, cached)
}

func TestRequestFolder_RecreatesMissingStoredFolder(t *testing.T) {
	h := newHarness(t)
	req := &entity.SignatureRequest{Name: "Contract", Creator: "ana", RepositoryFolder: "node-9999"}

	folder, err := h.uc.requestFolder(context.Background(), req)
	require.NoError(t, err)

	node, ok := h.srv.FindPath("Sites/Flujos/ana/Contract")
	require.True(t, ok)
	assert.Equal(t, node.ID, folder.NodeID)
}

func TestFolderName(t *testing.T) {
	assert.Equal(t, "a_b_c", folderName("a/b:c"))
	assert.Equal(t, "offer", folderName(" offer. "))
	assert.Equal(t, "_", folderName("..."))
}
