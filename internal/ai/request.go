package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"veldt/internal/applog"
	"veldt/internal/blueprint"
	"veldt/internal/modspec"
)

// validateScriptRoot checks that the root blueprint can actually be edited:
// it needs a well-formed entry that its files map backs.
func validateScriptRoot(root *blueprint.Blueprint) error {
	if root == nil {
		return fmt.Errorf("ai request: script root not found")
	}
	entry := strings.TrimSpace(root.ScriptEntry)
	if entry == "" || !modspec.ValidRelPath(entry) {
		return fmt.Errorf("ai request: script root %q has no valid entry", root.ID)
	}
	if _, ok := root.ScriptFiles[entry]; !ok {
		return fmt.Errorf("ai request: script root %q entry %q not in files", root.ID, entry)
	}
	return nil
}

// BuildEditRequest assembles a scriptAiRequest for a prompted edit. Edit
// requests never snapshot logs.
func BuildEditRequest(root *blueprint.Blueprint, appID, prompt string, attachments []Attachment) (*Request, error) {
	if err := validateScriptRoot(root); err != nil {
		return nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("ai request: edit mode requires a prompt")
	}
	return &Request{
		RequestID:   uuid.NewString(),
		Mode:        ModeEdit,
		Target:      Target{ScriptRootID: root.ID, AppID: appID},
		Prompt:      prompt,
		Attachments: dedupeAttachments(attachments),
	}, nil
}

// BuildFixRequest assembles a scriptAiRequest for an automated fix. The
// error may be supplied by the caller or fall back to the app's recorded
// scriptError; the target app's recent client logs ride along as evidence.
func BuildFixRequest(root *blueprint.Blueprint, appID string, scriptErr any, attachments []Attachment, logs *applog.Buffer) (*Request, error) {
	if err := validateScriptRoot(root); err != nil {
		return nil, err
	}
	if scriptErr == nil {
		return nil, fmt.Errorf("ai request: fix mode requires an error")
	}
	raw, err := json.Marshal(scriptErr)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprint(scriptErr))
	}
	req := &Request{
		RequestID:   uuid.NewString(),
		Mode:        ModeFix,
		Target:      Target{ScriptRootID: root.ID, AppID: appID},
		Error:       raw,
		Attachments: dedupeAttachments(attachments),
	}
	if logs != nil && appID != "" {
		req.Context.ClientLogs = logs.Entries(appID, MaxClientLogs)
	}
	return req, nil
}
