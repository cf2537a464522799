// Package ai implements the script AI request/proposal pipeline: building
// edit and fix requests on the client, generating proposals on the server,
// and routing proposals back into the editor.
package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"veldt/internal/applog"
)

const (
	ModeEdit = "edit"
	ModeFix  = "fix"
)

const (
	AttachmentDoc    = "doc"
	AttachmentScript = "script"
)

// MaxAttachments bounds how many doc/script attachments one request carries.
const MaxAttachments = 12

// MaxClientLogs bounds the log snapshot attached to fix requests.
const MaxClientLogs = 20

// Attachment references extra material the model should read.
type Attachment struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Target names the app and script root a request is about.
type Target struct {
	ScriptRootID string `json:"scriptRootId"`
	BlueprintID  string `json:"blueprintId,omitempty"`
	AppID        string `json:"appId,omitempty"`
}

// RequestContext carries runtime evidence gathered on the client.
type RequestContext struct {
	ClientLogs []applog.Entry `json:"clientLogs,omitempty"`
}

// Request is the canonical scriptAiRequest payload.
type Request struct {
	RequestID   string          `json:"requestId"`
	Mode        string          `json:"mode"`
	Target      Target          `json:"target"`
	Prompt      string          `json:"prompt,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Context     RequestContext  `json:"context"`
}

// legacyRequest is the older flat encoding still sent by some clients.
type legacyRequest struct {
	RequestID    string          `json:"requestId"`
	Mode         string          `json:"mode"`
	ScriptRootID string          `json:"scriptRootId"`
	AppID        string          `json:"appId,omitempty"`
	BlueprintID  string          `json:"blueprintId,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	Attachments  []Attachment    `json:"attachments,omitempty"`
	ClientLogs   []applog.Entry  `json:"clientLogs,omitempty"`
}

// DecodeRequest accepts both the canonical and the legacy flat encoding and
// returns the request in canonical form.
func DecodeRequest(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode ai request: %w", err)
	}
	if req.Target.ScriptRootID == "" {
		var legacy legacyRequest
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, fmt.Errorf("decode ai request: %w", err)
		}
		if legacy.ScriptRootID == "" {
			return nil, fmt.Errorf("decode ai request: missing scriptRootId")
		}
		req = Request{
			RequestID:   legacy.RequestID,
			Mode:        legacy.Mode,
			Target:      Target{ScriptRootID: legacy.ScriptRootID, BlueprintID: legacy.BlueprintID, AppID: legacy.AppID},
			Prompt:      legacy.Prompt,
			Error:       legacy.Error,
			Attachments: legacy.Attachments,
			Context:     RequestContext{ClientLogs: legacy.ClientLogs},
		}
	}
	switch req.Mode {
	case ModeEdit, ModeFix:
	default:
		return nil, fmt.Errorf("decode ai request: unknown mode %q", req.Mode)
	}
	if req.RequestID == "" {
		return nil, fmt.Errorf("decode ai request: missing requestId")
	}
	return &req, nil
}

// dedupeAttachments drops malformed and repeated (type, path) pairs, keeping
// first occurrences, and caps the result.
func dedupeAttachments(in []Attachment) []Attachment {
	var out []Attachment
	seen := map[Attachment]bool{}
	for _, a := range in {
		a.Path = strings.TrimSpace(a.Path)
		if a.Path == "" || (a.Type != AttachmentDoc && a.Type != AttachmentScript) {
			continue
		}
		if seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
		if len(out) == MaxAttachments {
			break
		}
	}
	return out
}
