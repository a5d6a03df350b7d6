package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/infrastructure/contentstore"
	redisinfra "flujos-esign/internal/infrastructure/redis"
)

// folderIndexTTL bounds how long a cached folder id is trusted
const folderIndexTTL = 24 * time.Hour

// FolderMaterializer makes sure the repository folder of a request exists
type FolderMaterializer interface {
	// Ensure walks <root folder>/<creator>/<request name>, creating what is
	// missing, and returns the leaf folder
	Ensure(ctx context.Context, creator, requestName string) (*entity.RepoNode, error)
}

type folderMaterializer struct {
	config *config.Config
	store  contentstore.Client
	redis  *redisinfra.RedisClient
	logger *zap.Logger
}

func NewFolderMaterializer(cfg *config.Config, store contentstore.Client, redisClient *redisinfra.RedisClient, logger *zap.Logger) FolderMaterializer {
	return &folderMaterializer{
		config: cfg,
		store:  store,
		redis:  redisClient,
		logger: logger,
	}
}

func (m *folderMaterializer) Ensure(ctx context.Context, creator, requestName string) (*entity.RepoNode, error) {
	segments := append(m.config.FolderSegments(), folderName(creator), folderName(requestName))

	node, keys, err := m.walk(ctx, segments, true)
	if err == nil && len(keys) > 0 {
		// a cached id may point at a folder removed in the repository
		if _, err = m.store.GetNode(ctx, node.NodeID); contentstore.IsNotFound(err) {
			m.logger.Warn("Folder index is stale, walking the repository",
				zap.String("folder_id", node.NodeID),
			)
			if err := m.redis.Del(ctx, keys...); err != nil {
				m.logger.Warn("Folder index cleanup failed", zap.Error(err))
			}
			node, _, err = m.walk(ctx, segments, false)
		} else if err != nil {
			err = entity.NewError(entity.KindContentStore, err, "could not check folder %q", node.Name)
		}
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("Request folder ready",
		zap.String("creator", creator),
		zap.String("request", requestName),
		zap.String("folder_id", node.NodeID),
	)
	return node, nil
}

// walk resolves segments from the root and returns the leaf along with the
// index keys that were answered from cache
func (m *folderMaterializer) walk(ctx context.Context, segments []string, useIndex bool) (*entity.RepoNode, []string, error) {
	var cached []string
	node := &entity.RepoNode{NodeID: m.config.ContentStore.RootID, IsFolder: true}
	for i, name := range segments {
		description := fmt.Sprintf("Signature workflow folder %s", strings.Join(segments[:i+1], "/"))
		next, hit, err := m.ensureChild(ctx, node.NodeID, name, description, useIndex)
		if err != nil {
			return nil, nil, entity.NewError(entity.KindContentStore, err, "could not prepare folder %q", name)
		}
		if hit {
			cached = append(cached, redisinfra.Key("folder", node.NodeID, name))
		}
		node = next
	}
	return node, cached, nil
}

func (m *folderMaterializer) ensureChild(ctx context.Context, parentID, name, description string, useIndex bool) (*entity.RepoNode, bool, error) {
	key := redisinfra.Key("folder", parentID, name)

	if m.redis != nil && useIndex {
		id, ok, err := m.redis.Lookup(ctx, key)
		if err != nil {
			m.logger.Warn("Folder index lookup failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return &entity.RepoNode{NodeID: id, Name: name, IsFolder: true}, true, nil
		}
	}

	node, err := m.store.FindChild(ctx, parentID, name, contentstore.ChildFilter{FoldersOnly: true})
	if err != nil {
		if !contentstore.IsNotFound(err) {
			return nil, false, err
		}
		// a concurrent creator makes CreateFolder answer 409, which the
		// client resolves to the existing folder
		node, err = m.store.CreateFolder(ctx, parentID, name, map[string]string{
			"cm:title":       name,
			"cm:description": description,
		})
		if err != nil {
			return nil, false, err
		}
		m.logger.Debug("Folder created", zap.String("parent_id", parentID), zap.String("name", name))
	}

	if m.redis != nil {
		if err := m.redis.Set(ctx, key, node.NodeID, folderIndexTTL); err != nil {
			m.logger.Warn("Folder index update failed", zap.String("key", key), zap.Error(err))
		}
	}
	return node, false, nil
}

var folderNameReplacer = strings.NewReplacer(
	"/", "_", `\`, "_", ":", "_", "*", "_", "?", "_",
	`"`, "_", "<", "_", ">", "_", "|", "_",
)

// folderName makes s acceptable as a repository node name
func folderName(s string) string {
	name := strings.TrimRight(folderNameReplacer.Replace(strings.TrimSpace(s)), ". ")
	if name == "" {
		return "_"
	}
	return name
}
