package entity

import (
	"time"
)

// MaxRecipients is the number of recipient slots on a request
const MaxRecipients = 4

// RecipientSlot is one of the four signer rows of a request. A slot is
// active when User is set.
type RecipientSlot struct {
	Slot     int        `json:"slot"`
	User     string     `json:"user"`
	Role     string     `json:"role"`
	Position string     `json:"position"`
	Signed   bool       `json:"signed"`
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

func (s RecipientSlot) IsActive() bool {
	return s.User != ""
}

// ActiveRecipients returns the slots with a user, in slot order
func (r *SignatureRequest) ActiveRecipients() []RecipientSlot {
	active := make([]RecipientSlot, 0, MaxRecipients)
	for i, s := range r.Recipients {
		if s.IsActive() {
			s.Slot = i + 1
			active = append(active, s)
		}
	}
	return active
}

// SlotFor returns the 1-based slot index held by user
func (r *SignatureRequest) SlotFor(user string) (int, bool) {
	if user == "" {
		return 0, false
	}
	for i, s := range r.Recipients {
		if s.User == user {
			return i + 1, true
		}
	}
	return 0, false
}

// Recipient returns a pointer to slot n (1..4)
func (r *SignatureRequest) Recipient(n int) *RecipientSlot {
	if n < 1 || n > MaxRecipients {
		return nil
	}
	return &r.Recipients[n-1]
}

// AllSigned reports whether every active slot has signed
func (r *SignatureRequest) AllSigned() bool {
	active := r.ActiveRecipients()
	if len(active) == 0 {
		return false
	}
	for _, s := range active {
		if !s.Signed {
			return false
		}
	}
	return true
}

// PendingUsers lists active recipients that have not signed yet
func (r *SignatureRequest) PendingUsers() []string {
	var users []string
	for _, s := range r.ActiveRecipients() {
		if !s.Signed {
			users = append(users, s.User)
		}
	}
	return users
}

// SignedUsers lists active recipients that already signed
func (r *SignatureRequest) SignedUsers() []string {
	var users []string
	for _, s := range r.ActiveRecipients() {
		if s.Signed {
			users = append(users, s.User)
		}
	}
	return users
}

// ValidateRecipients checks the recipient rows of a request.
// Every active slot needs a role and a known position; positions, roles and
// users are pairwise distinct among active slots and no recipient may be the
// creator.
func (r *SignatureRequest) ValidateRecipients() error {
	active := r.ActiveRecipients()
	if len(active) == 0 {
		return PreconditionError("at least one recipient is required")
	}

	positions := make(map[string]int, len(active))
	roles := make(map[string]int, len(active))
	users := make(map[string]int, len(active))

	for _, s := range active {
		if s.Role == "" {
			return PreconditionError("recipient %d (%s) has no role", s.Slot, s.User)
		}
		if s.Position == "" {
			return PreconditionError("recipient %d (%s) has no signature position", s.Slot, s.User)
		}
		if !IsValidPosition(s.Position) {
			return PreconditionError("recipient %d has unknown position %q", s.Slot, s.Position)
		}
		if s.User == r.Creator {
			return PreconditionError("recipient %d cannot be the request creator", s.Slot)
		}
		if prev, ok := positions[s.Position]; ok {
			return PreconditionError("recipients %d and %d share position %q", prev, s.Slot, s.Position)
		}
		if prev, ok := roles[s.Role]; ok {
			return PreconditionError("recipients %d and %d share role %q", prev, s.Slot, s.Role)
		}
		if prev, ok := users[s.User]; ok {
			return PreconditionError("recipients %d and %d are the same user %q", prev, s.Slot, s.User)
		}
		positions[s.Position] = s.Slot
		roles[s.Role] = s.Slot
		users[s.User] = s.Slot
	}

	return nil
}
