package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"veldt/internal/applog"
	"veldt/internal/assets"
	"veldt/internal/blueprint"
	"veldt/internal/modspec"
)

// ProposalMessage is the scriptAiProposal packet sent back on the world
// channel. Error and Message are set on failure; the rest on success.
type ProposalMessage struct {
	RequestID    string         `json:"requestId"`
	ScriptRootID string         `json:"scriptRootId"`
	Error        string         `json:"error,omitempty"`
	Message      string         `json:"message,omitempty"`
	Summary      string         `json:"summary,omitempty"`
	Source       string         `json:"source,omitempty"`
	Files        []ProposalFile `json:"files,omitempty"`
}

const editPrompt = `You are editing the script files of a world app.
Apply the user's request to the provided files.
Respond with a single JSON object: {"summary": string, "files": [{"path": string, "content": string}]}.
Only include files you changed. Paths must match existing script file paths.`

const fixPrompt = `You are fixing a runtime error in the script files of a world app.
Use the error and the captured logs to find the fault.
Respond with a single JSON object: {"summary": string, "files": [{"path": string, "content": string}]}.
Only include files you changed. Paths must match existing script file paths.`

// Runner serves scriptAiRequest packets: it gathers the script root's
// current sources, runs the generator, and parses the result into a
// proposal.
type Runner struct {
	gen        Generator
	blueprints *blueprint.Store
	assets     assets.Store
	serverLogs *applog.Buffer
	log        *log.Logger
}

func NewRunner(gen Generator, blueprints *blueprint.Store, store assets.Store, serverLogs *applog.Buffer, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{gen: gen, blueprints: blueprints, assets: store, serverLogs: serverLogs, log: logger}
}

type generationInput struct {
	Mode        string            `json:"mode"`
	Prompt      string            `json:"prompt,omitempty"`
	Error       any               `json:"error,omitempty"`
	Entry       string            `json:"entry"`
	Files       map[string]string `json:"files"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	ClientLogs  []applog.Entry    `json:"clientLogs,omitempty"`
	ServerLogs  []applog.Entry    `json:"serverLogs,omitempty"`
}

// Handle runs one request to completion and always returns a message to
// send back; failures are carried inside it rather than as an error.
func (r *Runner) Handle(ctx context.Context, req *Request) *ProposalMessage {
	msg := &ProposalMessage{RequestID: req.RequestID, ScriptRootID: req.Target.ScriptRootID}

	root := r.blueprints.Lookup(req.Target.ScriptRootID)
	if err := validateScriptRoot(root); err != nil {
		return fail(msg, "script_root_invalid", err)
	}

	input := generationInput{
		Mode:        req.Mode,
		Prompt:      req.Prompt,
		Entry:       root.ScriptEntry,
		Files:       map[string]string{},
		Attachments: req.Attachments,
		ClientLogs:  req.Context.ClientLogs,
	}
	if len(req.Error) > 0 {
		input.Error = req.Error
	}
	if req.Mode == ModeFix && r.serverLogs != nil && req.Target.AppID != "" {
		input.ServerLogs = r.serverLogs.Entries(req.Target.AppID, MaxClientLogs)
	}
	for relPath, url := range root.ScriptFiles {
		content, err := r.assets.Fetch(ctx, url)
		if err != nil {
			return fail(msg, "script_fetch_failed", fmt.Errorf("fetch %s: %w", relPath, err))
		}
		input.Files[relPath] = string(content)
	}

	prompt := editPrompt
	if req.Mode == ModeFix {
		prompt = fixPrompt
	}
	raw, err := r.gen.Generate(ctx, prompt, input)
	if err != nil {
		code := "generation_failed"
		if errors.Is(err, ErrGenerationTimeout) {
			code = ErrGenerationTimeout.Error()
		}
		return fail(msg, code, err)
	}

	allowed := func(path string) bool {
		if strings.Contains(path, "..") || !modspec.ValidRelPath(path) {
			return false
		}
		_, ok := root.ScriptFiles[path]
		return ok
	}
	proposal, err := ParseProposal(string(raw), allowed)
	if err != nil {
		return fail(msg, "proposal_parse_failed", err)
	}

	msg.Summary = proposal.Summary
	msg.Source = r.gen.Name()
	msg.Files = proposal.Files
	r.log.Printf("ai proposal for %s: %d files", root.ID, len(proposal.Files))
	return msg
}

func fail(msg *ProposalMessage, code string, err error) *ProposalMessage {
	msg.Error = code
	msg.Message = err.Error()
	return msg
}
