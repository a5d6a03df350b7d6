package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestState is the lifecycle state of a signature request
type RequestState string

const (
	StateDraft     RequestState = "draft"
	StateSent      RequestState = "sent"
	StateSigned    RequestState = "signed"
	StateCompleted RequestState = "completed"
	StateCancelled RequestState = "cancelled"
	StateRejected  RequestState = "rejected"
)

// DocumentSource tells where the request documents come from
type DocumentSource string

const (
	SourceLocal      DocumentSource = "local"
	SourceRepository DocumentSource = "repository"
)

// ResModel identifies signature requests towards the notifier
const ResModel = "signature.request"

var transitions = map[RequestState][]RequestState{
	StateDraft:  {StateSent, StateCancelled},
	StateSent:   {StateSent, StateSigned, StateCompleted, StateRejected, StateCancelled},
	StateSigned: {StateCompleted},
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s RequestState) CanTransition(next RequestState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s RequestState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateRejected
}

func (s RequestState) IsValid() bool {
	switch s {
	case StateDraft, StateSent, StateSigned, StateCompleted, StateCancelled, StateRejected:
		return true
	}
	return false
}

func (d DocumentSource) IsValid() bool {
	return d == SourceLocal || d == SourceRepository
}

// Actor is the user invoking an action
type Actor struct {
	Login string
	Admin bool
}

// SignatureRequest is the workflow aggregate
type SignatureRequest struct {
	ID               uuid.UUID                    `json:"id"`
	Name             string                       `json:"name"`
	Creator          string                       `json:"creator"`
	CreatedAt        time.Time                    `json:"created_at"`
	DocumentSource   DocumentSource               `json:"document_source"`
	Recipients       [MaxRecipients]RecipientSlot `json:"recipients"`
	State            RequestState                 `json:"state"`
	SentAt           *time.Time                   `json:"sent_at,omitempty"`
	SignedAt         *time.Time                   `json:"signed_at,omitempty"`
	CompletedAt      *time.Time                   `json:"completed_at,omitempty"`
	RejectionAt      *time.Time                   `json:"rejection_at,omitempty"`
	RejectionNotes   string                       `json:"rejection_notes,omitempty"`
	Notes            string                       `json:"notes,omitempty"`
	OpaqueBackground bool                         `json:"opaque_background"`
	SignAllPages     bool                         `json:"sign_all_pages"`
	RepositoryFolder string                       `json:"repository_folder,omitempty"`
	Documents        []WorkflowDocument           `json:"documents"`
}

// TransitionTo moves the request to next or fails with a precondition error
func (r *SignatureRequest) TransitionTo(next RequestState) error {
	if !r.State.CanTransition(next) {
		return PreconditionError("request %q cannot go from %s to %s", r.Name, r.State, next)
	}
	r.State = next
	return nil
}

// CanManage reports whether actor may cancel, delete or remind on the request
func (r *SignatureRequest) CanManage(actor Actor) bool {
	return actor.Admin || actor.Login == r.Creator
}

// Validate checks the request fields a creator controls
func (r *SignatureRequest) Validate() error {
	if err := r.ValidateDraft(); err != nil {
		return err
	}
	return r.ValidateRecipients()
}

// ValidateDraft checks what a draft needs before its recipients are complete
func (r *SignatureRequest) ValidateDraft() error {
	if strings.TrimSpace(r.Name) == "" {
		return PreconditionError("request name is required")
	}
	if r.Creator == "" {
		return PreconditionError("request creator is required")
	}
	if !r.DocumentSource.IsValid() {
		return PreconditionError("unknown document source %q", r.DocumentSource)
	}
	for i := range r.Documents {
		if err := r.Documents[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Complete marks every document signed and closes the request
func (r *SignatureRequest) Complete(now time.Time) error {
	if !r.AllSigned() {
		return PreconditionError("request %q still has pending recipients", r.Name)
	}
	if err := r.TransitionTo(StateCompleted); err != nil {
		return err
	}
	r.SignedAt = &now
	r.CompletedAt = &now
	return nil
}

// ResID is the identifier used for activities and messages
func (r *SignatureRequest) ResID() string {
	return r.ID.String()
}

// WorkflowDocument is one PDF taking part in a request
type WorkflowDocument struct {
	ID          uuid.UUID  `json:"id"`
	Seq         int        `json:"seq"`
	Name        string     `json:"name"`
	PDFBytes    []byte     `json:"-"`
	RepoNode    *RepoNode  `json:"repo_node,omitempty"`
	Size        int64      `json:"size"`
	ModifiedAt  *time.Time `json:"modified_at,omitempty"`
	Signed      bool       `json:"signed"`
	SignedAt    *time.Time `json:"signed_at,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
	// MissingSignatures lists signers whose signed version could not be stored
	MissingSignatures []string `json:"missing_signatures,omitempty"`
}

func (d *WorkflowDocument) Validate() error {
	if !strings.HasSuffix(strings.ToLower(d.Name), ".pdf") {
		return PreconditionError("document %q must be a .pdf file", d.Name)
	}
	return nil
}

// IsLocal reports whether the document still holds bytes awaiting upload
func (d *WorkflowDocument) IsLocal() bool {
	return len(d.PDFBytes) > 0 && d.RepoNode == nil
}

// AttachNode records the uploaded node and drops the local bytes
func (d *WorkflowDocument) AttachNode(node *RepoNode) {
	d.RepoNode = node
	d.PDFBytes = nil
	d.Size = node.Size
	if !node.ModifiedAt.IsZero() {
		modified := node.ModifiedAt
		d.ModifiedAt = &modified
	}
}

// MarkUnpublished records that login signed d but the result never reached
// the repository
func (d *WorkflowDocument) MarkUnpublished(login string) {
	for _, l := range d.MissingSignatures {
		if l == login {
			return
		}
	}
	d.MissingSignatures = append(d.MissingSignatures, login)
}

// Complete reports whether every signer's version of d was stored
func (d *WorkflowDocument) Complete() bool {
	return d.RepoNode != nil && len(d.MissingSignatures) == 0
}

// RepoNode is the handle of a content-store node
type RepoNode struct {
	NodeID     string    `json:"node_id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"mime_type,omitempty"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	IsFolder   bool      `json:"is_folder"`
}

// RequestFilter narrows request listings
type RequestFilter struct {
	State     RequestState
	Creator   string
	Recipient string
	Limit     int
	Offset    int
}
