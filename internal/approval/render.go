package approval

import (
	"fmt"
	"strings"

	"github.com/jmehdipour/ops-messaging/internal/model"
)

func approvalRequest(wf model.Workflow) model.Interactive {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", wf.SubjectRef)
	if wf.RequestedBy != "" {
		fmt.Fprintf(&sb, "Requested by: %s\n", wf.RequestedBy)
	}
	for _, f := range wf.Payload {
		fmt.Fprintf(&sb, "%s: %v\n", f.Key, f.Value)
	}
	fmt.Fprintf(&sb, "Expires: %s", wf.ExpiresAt.UTC().Format("2006-01-02 15:04 MST"))

	return model.Interactive{
		Title: wf.Type.Label() + " needed",
		Body:  sb.String(),
		Buttons: []model.Button{
			{ID: model.ReplyID(wf.ID, model.ActionApprove.String()), Title: "Approve"},
			{ID: model.ReplyID(wf.ID, model.ActionReject.String()), Title: "Reject"},
		},
	}
}

func confirmationText(wf model.Workflow, sideErr error) string {
	by := "unknown"
	if wf.ResolvedBy != nil && *wf.ResolvedBy != "" {
		by = *wf.ResolvedBy
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s for %s was %s by %s.", wf.Type.Label(), wf.SubjectRef, wf.Status, by)
	if wf.Notes != nil {
		fmt.Fprintf(&sb, "\nNotes: %s", *wf.Notes)
	}
	if sideErr != nil {
		sb.WriteString("\nThe follow-up action failed and was queued for manual handling.")
	}
	return sb.String()
}

func expiredText(wf model.Workflow) string {
	return fmt.Sprintf("This %s request for %s has expired and can no longer be answered.",
		strings.ToLower(wf.Type.Label()), wf.SubjectRef)
}
