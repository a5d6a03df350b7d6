package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flujos-esign/internal/config"
	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/notifier"
	"flujos-esign/internal/domain/repository"
	"flujos-esign/internal/infrastructure/contentstore"
)

type WorkflowUsecase interface {
	Create(ctx context.Context, actor entity.Actor, in *entity.RequestInput) (*entity.SignatureRequest, error)
	// Update rewrites a draft
	Update(ctx context.Context, id uuid.UUID, actor entity.Actor, in *entity.RequestInput) (*entity.SignatureRequest, error)
	Get(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error)
	List(ctx context.Context, actor entity.Actor, filter entity.RequestFilter) ([]*entity.SignatureRequest, error)
	Delete(ctx context.Context, id uuid.UUID, actor entity.Actor) error

	SendForSignature(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error)
	Sign(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error)
	Reject(ctx context.Context, id uuid.UUID, actor entity.Actor, notes string) (*entity.SignatureRequest, error)
	Cancel(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error)
	// Remind messages every recipient that has not signed yet
	Remind(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error)
}

type workflowUsecase struct {
	config       *config.Config
	repo         repository.SignatureRequestRepository
	materializer FolderMaterializer
	reconciler   DocumentReconciler
	sessions     *SessionFactory
	store        contentstore.Client
	notifier     notifier.Notifier
	logger       *zap.Logger
	now          func() time.Time
}

func NewWorkflowUsecase(
	cfg *config.Config,
	repo repository.SignatureRequestRepository,
	materializer FolderMaterializer,
	reconciler DocumentReconciler,
	sessions *SessionFactory,
	store contentstore.Client,
	n notifier.Notifier,
	logger *zap.Logger,
) WorkflowUsecase {
	return &workflowUsecase{
		config:       cfg,
		repo:         repo,
		materializer: materializer,
		reconciler:   reconciler,
		sessions:     sessions,
		store:        store,
		notifier:     n,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (u *workflowUsecase) Create(ctx context.Context, actor entity.Actor, in *entity.RequestInput) (*entity.SignatureRequest, error) {
	if actor.Login == "" {
		return nil, entity.ForbiddenError("an acting user is required")
	}

	req := &entity.SignatureRequest{
		ID:               uuid.New(),
		Creator:          actor.Login,
		CreatedAt:        u.now(),
		State:            entity.StateDraft,
		OpaqueBackground: u.config.Signature.DefaultOpaqueBackground,
		SignAllPages:     u.config.Signature.DefaultAllPages,
	}
	if err := u.apply(req, in); err != nil {
		return nil, err
	}

	if err := u.repo.Create(ctx, req); err != nil {
		u.logger.Error("Failed to create signature request", zap.Error(err))
		return nil, err
	}

	u.logger.Info("Signature request created",
		zap.String("request_id", req.ResID()),
		zap.String("name", req.Name),
		zap.String("creator", req.Creator),
		zap.Int("documents", len(req.Documents)),
	)
	return req, nil
}

func (u *workflowUsecase) Update(ctx context.Context, id uuid.UUID, actor entity.Actor, in *entity.RequestInput) (*entity.SignatureRequest, error) {
	req, err := u.repo.Update(ctx, id, func(ctx context.Context, req *entity.SignatureRequest) error {
		if !req.CanManage(actor) {
			return entity.ForbiddenError("only the creator can edit %q", req.Name)
		}
		if req.State != entity.StateDraft {
			return entity.PreconditionError("request %q is %s; only drafts can be edited", req.Name, req.State)
		}
		return u.apply(req, in)
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("Signature request updated", zap.String("request_id", req.ResID()))
	return req, nil
}

// apply copies the creator input onto a draft
func (u *workflowUsecase) apply(req *entity.SignatureRequest, in *entity.RequestInput) error {
	if in == nil {
		return entity.PreconditionError("request body is required")
	}

	req.Name = strings.TrimSpace(in.Name)
	req.Notes = in.Notes
	req.DocumentSource = in.DocumentSource
	if req.DocumentSource == "" {
		req.DocumentSource = entity.SourceLocal
	}
	if in.OpaqueBackground != nil {
		req.OpaqueBackground = *in.OpaqueBackground
	}
	if in.SignAllPages != nil {
		req.SignAllPages = *in.SignAllPages
	}

	if err := req.ApplyRecipients(in.Recipients, u.config.Signature.DefaultPosition); err != nil {
		return err
	}

	docs := make([]entity.WorkflowDocument, 0, len(in.Documents))
	for i, d := range in.Documents {
		doc := entity.WorkflowDocument{
			ID:   uuid.New(),
			Seq:  i + 1,
			Name: strings.TrimSpace(d.Name),
		}
		switch req.DocumentSource {
		case entity.SourceLocal:
			if len(d.Content) == 0 {
				return entity.PreconditionError("local document %q has no content", doc.Name)
			}
			doc.PDFBytes = d.Content
			doc.Size = int64(len(d.Content))
		case entity.SourceRepository:
			if d.NodeID == "" {
				return entity.PreconditionError("repository document %q needs a node id", doc.Name)
			}
			doc.RepoNode = &entity.RepoNode{NodeID: d.NodeID, Name: doc.Name}
		}
		docs = append(docs, doc)
	}
	req.Documents = docs

	return req.ValidateDraft()
}

func (u *workflowUsecase) Get(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error) {
	req, err := u.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if _, isRecipient := req.SlotFor(actor.Login); !req.CanManage(actor) && !isRecipient {
		return nil, entity.ForbiddenError("%s cannot see request %q", actor.Login, req.Name)
	}
	return req, nil
}

func (u *workflowUsecase) List(ctx context.Context, actor entity.Actor, filter entity.RequestFilter) ([]*entity.SignatureRequest, error) {
	if !actor.Admin {
		switch {
		case filter.Creator == "" && filter.Recipient == "":
			filter.Creator = actor.Login
		case filter.Creator != actor.Login && filter.Recipient != actor.Login:
			return nil, entity.ForbiddenError("%s can only list their own requests", actor.Login)
		}
	}
	if filter.State != "" && !filter.State.IsValid() {
		return nil, entity.PreconditionError("unknown state %q", filter.State)
	}

	return u.repo.List(ctx, filter)
}

func (u *workflowUsecase) Delete(ctx context.Context, id uuid.UUID, actor entity.Actor) error {
	req, err := u.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !req.CanManage(actor) {
		return entity.ForbiddenError("only the creator can delete %q", req.Name)
	}

	if err := u.repo.Delete(ctx, id); err != nil {
		return err
	}

	u.logger.Info("Signature request deleted",
		zap.String("request_id", req.ResID()),
		zap.String("state", string(req.State)),
		zap.String("actor", actor.Login),
	)
	if req.State == entity.StateSent {
		u.cancelPending(ctx, req, nil)
	}
	return nil
}

func (u *workflowUsecase) SendForSignature(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error) {
	ctx = contentstore.WithActor(ctx, actor.Login)
	now := u.now()

	req, err := u.repo.Update(ctx, id, func(ctx context.Context, req *entity.SignatureRequest) error {
		if !req.CanManage(actor) {
			return entity.ForbiddenError("only the creator can send %q", req.Name)
		}
		if req.State != entity.StateDraft {
			return entity.PreconditionError("request %q was already sent", req.Name)
		}
		if len(req.Documents) == 0 {
			return entity.PreconditionError("request %q has no documents", req.Name)
		}
		if err := req.Validate(); err != nil {
			return err
		}

		switch req.DocumentSource {
		case entity.SourceLocal:
			if err := u.materializeLocal(ctx, req); err != nil {
				return err
			}
		case entity.SourceRepository:
			for i := range req.Documents {
				if _, err := u.reconciler.Resolve(ctx, req.RepositoryFolder, &req.Documents[i]); err != nil {
					if contentstore.IsNotFound(err) {
						return entity.NewError(entity.KindPrecondition, err, "document %q no longer exists in the repository", req.Documents[i].Name)
					}
					return err
				}
			}
		}

		if err := req.TransitionTo(entity.StateSent); err != nil {
			return err
		}
		req.SentAt = &now
		return nil
	})
	if err != nil {
		u.logger.Warn("Send for signature failed", zap.String("request_id", id.String()), zap.Error(err))
		return nil, err
	}

	u.logger.Info("Signature request sent",
		zap.String("request_id", req.ResID()),
		zap.Strings("recipients", req.PendingUsers()),
		zap.String("folder_id", req.RepositoryFolder),
	)

	deadline := now.Add(u.config.RecipientActivityTTL())
	for _, slot := range req.ActiveRecipients() {
		u.notifyToDo(ctx, recipientToDo(req, slot, deadline))
		u.notifyMessage(ctx, recipientMessage(req, slot))
	}
	return req, nil
}

// materializeLocal uploads every local document; any failure aborts the send
func (u *workflowUsecase) materializeLocal(ctx context.Context, req *entity.SignatureRequest) error {
	folder, err := u.requestFolder(ctx, req)
	if err != nil {
		return entity.NewError(entity.KindPrecondition, err, "the request folder could not be prepared")
	}
	req.RepositoryFolder = folder.NodeID

	for i := range req.Documents {
		doc := &req.Documents[i]
		if !doc.IsLocal() {
			if doc.RepoNode == nil {
				return entity.PreconditionError("local document %q has no content", doc.Name)
			}
			continue
		}
		if err := u.reconciler.MaterializeLocal(ctx, folder, doc); err != nil {
			return entity.NewError(entity.KindPrecondition, err, "could not upload %q; the request stays in draft", doc.Name)
		}
	}
	return nil
}

// requestFolder reuses the stored folder while it still exists
func (u *workflowUsecase) requestFolder(ctx context.Context, req *entity.SignatureRequest) (*entity.RepoNode, error) {
	if req.RepositoryFolder != "" {
		node, err := u.store.GetNode(ctx, req.RepositoryFolder)
		if err == nil {
			return node, nil
		}
		if !contentstore.IsNotFound(err) {
			return nil, err
		}
		u.logger.Warn("Stored request folder is gone", zap.String("folder_id", req.RepositoryFolder))
	}
	return u.materializer.Ensure(ctx, req.Creator, req.Name)
}

func (u *workflowUsecase) Sign(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error) {
	ctx = contentstore.WithActor(ctx, actor.Login)
	now := u.now()

	var alreadySigned, completed bool
	req, err := u.repo.Update(ctx, id, func(ctx context.Context, req *entity.SignatureRequest) error {
		if req.State != entity.StateSent {
			return entity.ConcurrencyError("request %q is %s and no longer awaits signatures", req.Name, req.State)
		}
		n, ok := req.SlotFor(actor.Login)
		if !ok {
			return entity.PreconditionError("%s is not a recipient of %q", actor.Login, req.Name)
		}
		slot := req.Recipient(n)
		if slot.Signed {
			u.logger.Warn("Recipient already signed",
				zap.String("request_id", req.ResID()),
				zap.String("login", actor.Login),
			)
			alreadySigned = true
			return nil
		}

		published, err := u.signDocuments(ctx, req, n, now)
		if err != nil {
			return err
		}

		slot.Signed = true
		slot.SignedAt = &now
		if !req.AllSigned() {
			return nil
		}

		if err := req.Complete(now); err != nil {
			return err
		}
		for i := range req.Documents {
			doc := &req.Documents[i]
			if !published[doc.ID] || !doc.Complete() {
				u.logger.Warn("Document lacks stored signatures",
					zap.String("request_id", req.ResID()),
					zap.String("document", doc.Name),
					zap.Strings("missing", doc.MissingSignatures),
				)
				continue
			}
			doc.Signed = true
			doc.SignedAt = &now
			doc.DownloadURL = u.store.ContentURL(doc.RepoNode.NodeID)
		}
		completed = true
		return nil
	})
	if err != nil {
		u.logger.Warn("Signing failed",
			zap.String("request_id", id.String()),
			zap.String("login", actor.Login),
			zap.Error(err),
		)
		return nil, err
	}
	if alreadySigned {
		return req, nil
	}

	u.logger.Info("Recipient signed",
		zap.String("request_id", req.ResID()),
		zap.String("login", actor.Login),
		zap.Bool("completed", completed),
	)

	u.cancelPending(ctx, req, []string{actor.Login})
	if completed {
		u.notifyToDo(ctx, completionToDo(req, now.Add(u.config.RecipientActivityTTL())))
		u.notifyMessage(ctx, completionMessage(req))
	} else {
		u.notifyMessage(ctx, partialSignMessage(req, actor.Login))
	}
	return req, nil
}

// signDocuments signs every document for slot n, then publishes the results.
// A signing failure aborts before anything is published. A failed upload is
// logged, recorded on the document and left out of the returned set.
func (u *workflowUsecase) signDocuments(ctx context.Context, req *entity.SignatureRequest, n int, now time.Time) (map[uuid.UUID]bool, error) {
	slot := *req.Recipient(n)
	slot.Slot = n

	session, err := u.sessions.open(ctx, slot.User, slot, req.OpaqueBackground, now)
	if err != nil {
		return nil, err
	}
	defer session.close()

	signed := make([][]byte, len(req.Documents))
	for i := range req.Documents {
		doc := &req.Documents[i]
		pdf, err := u.reconciler.Download(ctx, req.RepositoryFolder, doc)
		if err != nil {
			return nil, err
		}
		if signed[i], err = session.sign(pdf, doc, req.SignAllPages); err != nil {
			return nil, err
		}
	}

	published := make(map[uuid.UUID]bool, len(req.Documents))
	var lastErr error
	for i := range req.Documents {
		doc := &req.Documents[i]
		if err := u.reconciler.Publish(ctx, doc, signed[i]); err != nil {
			u.logger.Error("Failed to publish signed document",
				zap.String("request_id", req.ResID()),
				zap.String("document", doc.Name),
				zap.Error(err),
			)
			lastErr = err
			doc.MarkUnpublished(slot.User)
			continue
		}
		published[doc.ID] = true
	}
	if len(published) == 0 {
		return nil, lastErr
	}
	return published, nil
}

func (u *workflowUsecase) Reject(ctx context.Context, id uuid.UUID, actor entity.Actor, notes string) (*entity.SignatureRequest, error) {
	now := u.now()

	req, err := u.repo.Update(ctx, id, func(ctx context.Context, req *entity.SignatureRequest) error {
		if req.State != entity.StateSent {
			return entity.PreconditionError("request %q is %s; only sent requests can be rejected", req.Name, req.State)
		}
		if _, ok := req.SlotFor(actor.Login); !ok {
			return entity.ForbiddenError("%s is not a recipient of %q", actor.Login, req.Name)
		}
		if strings.TrimSpace(notes) == "" {
			return entity.PreconditionError("rejection notes are required")
		}

		if err := req.TransitionTo(entity.StateRejected); err != nil {
			return err
		}
		req.RejectionAt = &now
		req.RejectionNotes = "Rejected by " + actor.Login + ":\n" + notes
		return nil
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("Signature request rejected",
		zap.String("request_id", req.ResID()),
		zap.String("login", actor.Login),
	)

	var recipients []string
	for _, s := range req.ActiveRecipients() {
		recipients = append(recipients, s.User)
	}
	u.cancelPending(ctx, req, recipients)
	u.notifyToDo(ctx, rejectionWarning(req, now.Add(u.config.RecipientActivityTTL())))
	u.notifyMessage(ctx, rejectionMessage(req))
	return req, nil
}

func (u *workflowUsecase) Cancel(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error) {
	var wasSent bool
	req, err := u.repo.Update(ctx, id, func(ctx context.Context, req *entity.SignatureRequest) error {
		if !req.CanManage(actor) {
			return entity.ForbiddenError("only the creator can cancel %q", req.Name)
		}
		wasSent = req.State == entity.StateSent
		return req.TransitionTo(entity.StateCancelled)
	})
	if err != nil {
		return nil, err
	}

	u.logger.Info("Signature request cancelled",
		zap.String("request_id", req.ResID()),
		zap.String("actor", actor.Login),
	)
	if wasSent {
		u.cancelPending(ctx, req, nil)
	}
	return req, nil
}

func (u *workflowUsecase) Remind(ctx context.Context, id uuid.UUID, actor entity.Actor) (*entity.SignatureRequest, error) {
	req, err := u.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.CanManage(actor) {
		return nil, entity.ForbiddenError("only the creator can send reminders for %q", req.Name)
	}
	if req.State != entity.StateSent {
		return nil, entity.PreconditionError("request %q is %s; reminders need a sent request", req.Name, req.State)
	}

	pending := req.PendingUsers()
	for _, user := range pending {
		u.notifyMessage(ctx, reminderMessage(req, user))
	}

	u.logger.Info("Reminders sent",
		zap.String("request_id", req.ResID()),
		zap.Strings("recipients", pending),
	)
	return req, nil
}

// Notifications run after commit; a failure is logged and never undoes the action

func (u *workflowUsecase) notifyToDo(ctx context.Context, a notifier.Activity) {
	if err := u.notifier.NotifyToDo(ctx, a); err != nil {
		u.logger.Warn("Failed to schedule activity",
			zap.String("res_id", a.ResID),
			zap.String("user", a.User),
			zap.String("kind", string(a.Kind)),
			zap.Error(err),
		)
	}
}

func (u *workflowUsecase) notifyMessage(ctx context.Context, m notifier.Message) {
	if err := u.notifier.NotifyMessage(ctx, m); err != nil {
		u.logger.Warn("Failed to post message",
			zap.String("res_id", m.ResID),
			zap.Strings("recipients", m.Recipients),
			zap.Error(err),
		)
	}
}

func (u *workflowUsecase) cancelPending(ctx context.Context, req *entity.SignatureRequest, users []string) {
	if err := u.notifier.CancelPending(ctx, entity.ResModel, req.ResID(), users); err != nil {
		u.logger.Warn("Failed to cancel pending activities",
			zap.String("res_id", req.ResID()),
			zap.Strings("users", users),
			zap.Error(err),
		)
	}
}
