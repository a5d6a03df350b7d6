package entity

// RequestInput is the creator-editable part of a signature request
type RequestInput struct {
	Name           string           `json:"name"`
	DocumentSource DocumentSource   `json:"document_source"`
	Notes          string           `json:"notes"`
	Recipients     []RecipientInput `json:"recipients"`
	Documents      []DocumentInput  `json:"documents"`
	// nil falls back to the configured defaults
	OpaqueBackground *bool `json:"opaque_background,omitempty"`
	SignAllPages     *bool `json:"sign_all_pages,omitempty"`
}

// RecipientInput fills one slot. Slot 0 takes the next free slot.
type RecipientInput struct {
	Slot     int    `json:"slot,omitempty"`
	User     string `json:"user"`
	Role     string `json:"role"`
	Position string `json:"position,omitempty"`
}

// DocumentInput carries either local PDF bytes (base64 in JSON) or the id of
// an existing repository node
type DocumentInput struct {
	Name    string `json:"name"`
	Content []byte `json:"content,omitempty"`
	NodeID  string `json:"node_id,omitempty"`
}

// ApplyRecipients replaces the recipient slots of r with in
func (r *SignatureRequest) ApplyRecipients(in []RecipientInput, defaultPosition string) error {
	if len(in) > MaxRecipients {
		return PreconditionError("a request takes at most %d recipients", MaxRecipients)
	}

	seen := make(map[int]bool, len(in))
	for _, ri := range in {
		if ri.Slot < 0 || ri.Slot > MaxRecipients {
			return PreconditionError("recipient slot %d is out of range", ri.Slot)
		}
		if ri.Slot != 0 && seen[ri.Slot] {
			return PreconditionError("recipient slot %d is given twice", ri.Slot)
		}
		seen[ri.Slot] = true
	}

	var slots [MaxRecipients]RecipientSlot

	next := 0
	for _, ri := range in {
		n := ri.Slot
		if n == 0 {
			for next < MaxRecipients && (slots[next].IsActive() || slotClaimed(in, next+1)) {
				next++
			}
			if next == MaxRecipients {
				return PreconditionError("a request takes at most %d recipients", MaxRecipients)
			}
			n = next + 1
		}
		position := ri.Position
		if position == "" {
			position = defaultPosition
		}
		slots[n-1] = RecipientSlot{Slot: n, User: ri.User, Role: ri.Role, Position: position}
		if ri.User == "" {
			return PreconditionError("recipient %d has no user", n)
		}
	}

	r.Recipients = slots
	return nil
}

func slotClaimed(in []RecipientInput, n int) bool {
	for _, ri := range in {
		if ri.Slot == n {
			return true
		}
	}
	return false
}
