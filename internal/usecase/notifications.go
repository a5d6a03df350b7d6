package usecase

import (
	"fmt"
	"strings"
	"time"

	"flujos-esign/internal/domain/entity"
	"flujos-esign/internal/domain/notifier"
)

func documentNames(req *entity.SignatureRequest) string {
	names := make([]string, 0, len(req.Documents))
	for _, d := range req.Documents {
		names = append(names, "- "+d.Name)
	}
	return strings.Join(names, "\n")
}

func recipientToDo(req *entity.SignatureRequest, slot entity.RecipientSlot, deadline time.Time) notifier.Activity {
	var note strings.Builder
	fmt.Fprintf(&note, "Documents:\n%s\n", documentNames(req))
	fmt.Fprintf(&note, "Role: %s\nPosition: %s\nRequested by: %s", slot.Role, slot.Position, req.Creator)
	if req.Notes != "" {
		fmt.Fprintf(&note, "\nNotes: %s", req.Notes)
	}

	return notifier.Activity{
		ResModel: entity.ResModel,
		ResID:    req.ResID(),
		User:     slot.User,
		Kind:     notifier.ActivityToDo,
		Summary:  fmt.Sprintf("Sign %s", req.Name),
		Note:     note.String(),
		Deadline: deadline,
	}
}

func recipientMessage(req *entity.SignatureRequest, slot entity.RecipientSlot) notifier.Message {
	return notifier.Message{
		ResModel:   entity.ResModel,
		ResID:      req.ResID(),
		Recipients: []string{slot.User},
		Subject:    fmt.Sprintf("Signature requested: %s", req.Name),
		Body: fmt.Sprintf("%s asks you to sign %d document(s) as %s.\n%s",
			req.Creator, len(req.Documents), slot.Role, documentNames(req)),
	}
}

func partialSignMessage(req *entity.SignatureRequest, signer string) notifier.Message {
	return notifier.Message{
		ResModel:   entity.ResModel,
		ResID:      req.ResID(),
		Recipients: []string{req.Creator},
		Subject:    fmt.Sprintf("%s signed %s", signer, req.Name),
		Body: fmt.Sprintf("Signed by: %s\nPending: %s",
			strings.Join(req.SignedUsers(), ", "), strings.Join(req.PendingUsers(), ", ")),
	}
}

func rejectionWarning(req *entity.SignatureRequest, deadline time.Time) notifier.Activity {
	return notifier.Activity{
		ResModel: entity.ResModel,
		ResID:    req.ResID(),
		User:     req.Creator,
		Kind:     notifier.ActivityWarning,
		Summary:  fmt.Sprintf("Rejected: %s", req.Name),
		Note:     req.RejectionNotes,
		Deadline: deadline,
	}
}

func rejectionMessage(req *entity.SignatureRequest) notifier.Message {
	recipients := []string{req.Creator}
	for _, s := range req.ActiveRecipients() {
		recipients = append(recipients, s.User)
	}
	return notifier.Message{
		ResModel:   entity.ResModel,
		ResID:      req.ResID(),
		Recipients: recipients,
		Subject:    fmt.Sprintf("Signature request rejected: %s", req.Name),
		Body:       req.RejectionNotes,
	}
}

func completionToDo(req *entity.SignatureRequest, deadline time.Time) notifier.Activity {
	return notifier.Activity{
		ResModel: entity.ResModel,
		ResID:    req.ResID(),
		User:     req.Creator,
		Kind:     notifier.ActivityToDo,
		Summary:  fmt.Sprintf("Signed documents ready: %s", req.Name),
		Note:     completionBody(req),
		Deadline: deadline,
	}
}

func completionMessage(req *entity.SignatureRequest) notifier.Message {
	return notifier.Message{
		ResModel:   entity.ResModel,
		ResID:      req.ResID(),
		Recipients: []string{req.Creator},
		Subject:    fmt.Sprintf("Signature request completed: %s", req.Name),
		Body:       completionBody(req),
	}
}

func completionBody(req *entity.SignatureRequest) string {
	var b strings.Builder
	b.WriteString("Signers:\n")
	for _, s := range req.ActiveRecipients() {
		fmt.Fprintf(&b, "- %s (%s)\n", s.User, s.Role)
	}
	b.WriteString("Documents:")
	for _, d := range req.Documents {
		if d.Signed {
			fmt.Fprintf(&b, "\n- %s: %s", d.Name, d.DownloadURL)
		} else if len(d.MissingSignatures) > 0 {
			fmt.Fprintf(&b, "\n- %s: not published (missing: %s)", d.Name, strings.Join(d.MissingSignatures, ", "))
		} else {
			fmt.Fprintf(&b, "\n- %s: not published", d.Name)
		}
	}
	return b.String()
}

func reminderMessage(req *entity.SignatureRequest, user string) notifier.Message {
	return notifier.Message{
		ResModel:   entity.ResModel,
		ResID:      req.ResID(),
		Recipients: []string{user},
		Subject:    fmt.Sprintf("Reminder: %s is waiting for your signature", req.Name),
		Body: fmt.Sprintf("%s is still waiting for your signature on:\n%s",
			req.Creator, documentNames(req)),
	}
}
