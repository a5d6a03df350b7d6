package usecase

import (
	"context"

	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/infrastructure/contentstore"
)

const pdfMimeType = "application/pdf"

// DocumentReconciler keeps workflow documents and repository nodes in step
type DocumentReconciler interface {
	// MaterializeLocal uploads a local document into folder, reusing a file of
	// the same name, and drops the local bytes
	MaterializeLocal(ctx context.Context, folder *entity.RepoNode, doc *entity.WorkflowDocument) error
	// Resolve finds the node of doc, replacing a stale stored id
	Resolve(ctx context.Context, folderID string, doc *entity.WorkflowDocument) (*entity.RepoNode, error)
	// Download returns the current version of doc
	Download(ctx context.Context, folderID string, doc *entity.WorkflowDocument) ([]byte, error)
	// Publish stores content as a new version of doc
	Publish(ctx context.Context, doc *entity.WorkflowDocument, content []byte) error
}

type documentReconciler struct {
	config *config.Config
	store  contentstore.Client
	logger *zap.Logger
}

func NewDocumentReconciler(cfg *config.Config, store contentstore.Client, logger *zap.Logger) DocumentReconciler {
	return &documentReconciler{
		config: cfg,
		store:  store,
		logger: logger,
	}
}

func (r *documentReconciler) MaterializeLocal(ctx context.Context, folder *entity.RepoNode, doc *entity.WorkflowDocument) error {
	existing, err := r.store.FindChild(ctx, folder.NodeID, doc.Name, contentstore.ChildFilter{FilesOnly: true})
	switch {
	case err == nil:
		r.logger.Info("Reusing repository file for local document",
			zap.String("document", doc.Name),
			zap.String("node_id", existing.NodeID),
		)
		doc.AttachNode(existing)
		return nil
	case !contentstore.IsNotFound(err):
		return entity.NewError(entity.KindContentStore, err, "could not look up %q in the request folder", doc.Name)
	}

	node, err := r.store.UploadFile(ctx, folder.NodeID, doc.Name, doc.PDFBytes, pdfMimeType, map[string]string{
		"cm:title": doc.Name,
	})
	if err != nil {
		return entity.NewError(entity.KindContentStore, err, "could not upload %q", doc.Name)
	}

	r.logger.Info("Local document uploaded",
		zap.String("document", doc.Name),
		zap.String("node_id", node.NodeID),
		zap.Int64("size", node.Size),
	)
	doc.AttachNode(node)
	return nil
}

func (r *documentReconciler) Resolve(ctx context.Context, folderID string, doc *entity.WorkflowDocument) (*entity.RepoNode, error) {
	if doc.RepoNode != nil && doc.RepoNode.NodeID != "" {
		node, err := r.store.GetNode(ctx, doc.RepoNode.NodeID)
		if err == nil {
			doc.RepoNode = node
			return node, nil
		}
		if !contentstore.IsNotFound(err) {
			return nil, entity.NewError(entity.KindContentStore, err, "could not read %q", doc.Name)
		}
		r.logger.Warn("Stored node id is stale",
			zap.String("document", doc.Name),
			zap.String("node_id", doc.RepoNode.NodeID),
		)
	}

	var node *entity.RepoNode
	var err error
	if folderID != "" {
		node, err = r.store.FindChild(ctx, folderID, doc.Name, contentstore.ChildFilter{FilesOnly: true})
		if err != nil && !contentstore.IsNotFound(err) {
			return nil, entity.NewError(entity.KindContentStore, err, "could not list the request folder")
		}
	}
	if node == nil {
		ancestor := folderID
		if ancestor == "" {
			// search needs a concrete node id, not a REST alias such as -root-
			root, err := r.store.GetNode(ctx, r.config.ContentStore.RootID)
			if err != nil {
				return nil, entity.NewError(entity.KindContentStore, err, "could not resolve the repository root")
			}
			ancestor = root.NodeID
		}
		node, err = r.store.SearchByName(ctx, doc.Name, ancestor)
		if err != nil {
			if contentstore.IsNotFound(err) {
				return nil, entity.NewError(entity.KindContentStore, err, "document %q is missing from the repository", doc.Name)
			}
			return nil, entity.NewError(entity.KindContentStore, err, "could not search for %q", doc.Name)
		}
	}

	r.logger.Info("Document node resolved",
		zap.String("document", doc.Name),
		zap.String("node_id", node.NodeID),
	)
	doc.RepoNode = node
	return node, nil
}

func (r *documentReconciler) Download(ctx context.Context, folderID string, doc *entity.WorkflowDocument) ([]byte, error) {
	node, err := r.Resolve(ctx, folderID, doc)
	if err != nil {
		return nil, err
	}

	content, err := r.store.DownloadContent(ctx, node.NodeID)
	if err != nil {
		return nil, entity.NewError(entity.KindContentStore, err, "could not download %q", doc.Name)
	}
	return content, nil
}

func (r *documentReconciler) Publish(ctx context.Context, doc *entity.WorkflowDocument, content []byte) error {
	if doc.RepoNode == nil {
		return entity.PreconditionError("document %q has no repository node", doc.Name)
	}

	node, err := r.store.UpdateContent(ctx, doc.RepoNode.NodeID, content, pdfMimeType)
	if err != nil {
		return entity.NewError(entity.KindContentStore, err, "could not publish %q", doc.Name)
	}

	doc.RepoNode = node
	doc.Size = node.Size
	if !node.ModifiedAt.IsZero() {
		modified := node.ModifiedAt
		doc.ModifiedAt = &modified
	}
	r.logger.Info("Signed version published",
		zap.String("document", doc.Name),
		zap.String("node_id", node.NodeID),
		zap.Int64("size", node.Size),
	)
	return nil
}
