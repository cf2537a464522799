package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"veldt/internal/applog"
	"veldt/internal/assets"
	"veldt/internal/blueprint"
)

func scriptRoot(t *testing.T, store *assets.MemoryStore, files map[string]string) *blueprint.Blueprint {
	t.Helper()
	bp := &blueprint.Blueprint{
		ID:           "Root",
		Version:      1,
		ScriptFiles:  map[string]string{},
		ScriptEntry:  "index.js",
		ScriptFormat: blueprint.FormatModule,
	}
	for relPath, src := range files {
		url, err := store.Upload(context.Background(), relPath, []byte(src))
		if err != nil {
			t.Fatalf("upload %s: %v", relPath, err)
		}
		bp.ScriptFiles[relPath] = url
	}
	return bp
}

func TestBuildFixRequestAttachesLogs(t *testing.T) {
	store := assets.NewMemoryStore()
	root := scriptRoot(t, store, map[string]string{"index.js": "export default () => {}"})

	logs := applog.NewClient()
	logs.Capture("app-1", applog.LevelError, "boom")

	scriptErr := map[string]any{"message": "runtime boom"}
	req, err := BuildFixRequest(root, "app-1", scriptErr, nil, logs)
	if err != nil {
		t.Fatalf("build fix: %v", err)
	}
	if req.Mode != ModeFix || req.Target.AppID != "app-1" || req.Target.ScriptRootID != "Root" {
		t.Fatalf("request = %+v", req)
	}
	if req.RequestID == "" {
		t.Fatal("missing requestId")
	}
	if len(req.Context.ClientLogs) != 1 {
		t.Fatalf("clientLogs = %d entries, want 1", len(req.Context.ClientLogs))
	}
	e := req.Context.ClientLogs[0]
	if e.Level != applog.LevelError || e.Message != "boom" || len(e.Args) != 1 || e.Args[0] != "boom" {
		t.Fatalf("clientLogs[0] = %+v", e)
	}
	if !strings.Contains(string(req.Error), "runtime boom") {
		t.Fatalf("error = %s, want runtime boom", req.Error)
	}
}

func TestBuildEditRequestNeverAttachesLogs(t *testing.T) {
	store := assets.NewMemoryStore()
	root := scriptRoot(t, store, map[string]string{"index.js": "export default () => {}"})

	req, err := BuildEditRequest(root, "app-1", "make it spin", nil)
	if err != nil {
		t.Fatalf("build edit: %v", err)
	}
	if req.Context.ClientLogs != nil {
		t.Fatalf("edit request carries clientLogs: %v", req.Context.ClientLogs)
	}

	if _, err := BuildEditRequest(root, "app-1", "   ", nil); err == nil {
		t.Fatal("empty prompt accepted")
	}
	if _, err := BuildFixRequest(root, "app-1", nil, nil, nil); err == nil {
		t.Fatal("fix without error accepted")
	}
}

func TestBuildRequestValidatesRoot(t *testing.T) {
	bad := &blueprint.Blueprint{ID: "Root", Version: 1, ScriptEntry: "index.js"}
	if _, err := BuildEditRequest(bad, "", "p", nil); err == nil {
		t.Fatal("root without files accepted")
	}
	if _, err := BuildEditRequest(nil, "", "p", nil); err == nil {
		t.Fatal("nil root accepted")
	}
}

func TestAttachmentDedupeAndCap(t *testing.T) {
	var in []Attachment
	for i := 0; i < 3; i++ {
		in = append(in,
			Attachment{Type: AttachmentDoc, Path: "docs/hyp.md"},
			Attachment{Type: AttachmentScript, Path: "index.js"},
		)
	}
	in = append(in, Attachment{Type: "weird", Path: "x"}, Attachment{Type: AttachmentDoc, Path: " "})
	for i := 0; i < 20; i++ {
		in = append(in, Attachment{Type: AttachmentDoc, Path: "doc-" + strings.Repeat("x", i+1)})
	}

	out := dedupeAttachments(in)
	if len(out) != MaxAttachments {
		t.Fatalf("len = %d, want %d", len(out), MaxAttachments)
	}
	if out[0].Path != "docs/hyp.md" || out[1].Path != "index.js" {
		t.Fatalf("order not preserved: %+v", out[:2])
	}
}

func TestDecodeRequestCanonicalAndLegacy(t *testing.T) {
	canonical := `{"requestId":"r1","mode":"edit","target":{"scriptRootId":"Root","appId":"a1"},"prompt":"p"}`
	req, err := DecodeRequest([]byte(canonical))
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if req.Target.ScriptRootID != "Root" || req.Target.AppID != "a1" {
		t.Fatalf("canonical target = %+v", req.Target)
	}

	legacy := `{"requestId":"r2","mode":"fix","scriptRootId":"Root","appId":"a1","error":{"message":"boom"},"clientLogs":[{"timestamp":"t","level":"error","args":["boom"],"message":"boom"}]}`
	req, err = DecodeRequest([]byte(legacy))
	if err != nil {
		t.Fatalf("legacy: %v", err)
	}
	if req.Target.ScriptRootID != "Root" || req.Mode != ModeFix {
		t.Fatalf("legacy request = %+v", req)
	}
	if len(req.Context.ClientLogs) != 1 || req.Context.ClientLogs[0].Message != "boom" {
		t.Fatalf("legacy clientLogs = %+v", req.Context.ClientLogs)
	}

	if _, err := DecodeRequest([]byte(`{"requestId":"r3","mode":"edit"}`)); err == nil {
		t.Fatal("request without scriptRootId accepted")
	}
	if _, err := DecodeRequest([]byte(`{"requestId":"r4","mode":"magic","target":{"scriptRootId":"Root"}}`)); err == nil {
		t.Fatal("unknown mode accepted")
	}
}

func TestParseProposal(t *testing.T) {
	raw := "```json {\"summary\":\"updated files\",\"files\":[" +
		"{\"path\":\"index.js\",\"content\":\"export default () => {}\"}," +
		"{\"path\":\"index.js\",\"content\":\"duplicate\"}," +
		"{\"path\":\"../outside.js\",\"content\":\"bad\"}]} ```"
	allow := func(path string) bool { return !strings.Contains(path, "..") }

	proposal, err := ParseProposal(raw, allow)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if proposal.Summary != "updated files" {
		t.Fatalf("summary = %q", proposal.Summary)
	}
	if len(proposal.Files) != 1 {
		t.Fatalf("files = %+v, want exactly one", proposal.Files)
	}
	f := proposal.Files[0]
	if f.Path != "index.js" || f.Content != "export default () => {}" {
		t.Fatalf("files[0] = %+v", f)
	}
}

func TestParseProposalRejects(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"summary":"x"}`, "{broken"} {
		if _, err := ParseProposal(raw, nil); !errors.Is(err, ErrNoFiles) {
			t.Fatalf("ParseProposal(%q) err = %v, want ErrNoFiles", raw, err)
		}
	}
}

// fakeGenerator returns a scripted response or error.
type fakeGenerator struct {
	resp  string
	err   error
	calls int
}

func (f *fakeGenerator) Name() string { return "fake" }
func (f *fakeGenerator) Close() error { return nil }
func (f *fakeGenerator) Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.resp), nil
}

func TestRunnerHandleSuccess(t *testing.T) {
	store := assets.NewMemoryStore()
	root := scriptRoot(t, store, map[string]string{"index.js": "export default () => {}"})

	dir := t.TempDir()
	blueprints := blueprint.New(dir + "/blueprints.json")
	if err := blueprints.Add(root); err != nil {
		t.Fatalf("add blueprint: %v", err)
	}

	gen := &fakeGenerator{resp: `{"summary":"done","files":[{"path":"index.js","content":"export default () => 1"},{"path":"evil/../../x.js","content":"no"}]}`}
	runner := NewRunner(gen, blueprints, store, nil, nil)

	msg := runner.Handle(context.Background(), &Request{
		RequestID: "r1",
		Mode:      ModeEdit,
		Target:    Target{ScriptRootID: "Root"},
		Prompt:    "change it",
	})
	if msg.Error != "" {
		t.Fatalf("handle failed: %s %s", msg.Error, msg.Message)
	}
	if msg.Summary != "done" || msg.Source != "fake" || len(msg.Files) != 1 {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Files[0].Path != "index.js" {
		t.Fatalf("files[0] = %+v", msg.Files[0])
	}
}

func TestRunnerHandleFailures(t *testing.T) {
	store := assets.NewMemoryStore()
	root := scriptRoot(t, store, map[string]string{"index.js": "export default () => {}"})

	dir := t.TempDir()
	blueprints := blueprint.New(dir + "/blueprints.json")
	if err := blueprints.Add(root); err != nil {
		t.Fatalf("add blueprint: %v", err)
	}

	gen := &fakeGenerator{err: Permanent(errors.New("provider down"))}
	runner := NewRunner(gen, blueprints, store, nil, nil)

	msg := runner.Handle(context.Background(), &Request{
		RequestID: "r1", Mode: ModeEdit, Target: Target{ScriptRootID: "Root"}, Prompt: "p",
	})
	if msg.Error != "generation_failed" || !strings.Contains(msg.Message, "provider down") {
		t.Fatalf("msg = %+v", msg)
	}

	msg = runner.Handle(context.Background(), &Request{
		RequestID: "r2", Mode: ModeEdit, Target: Target{ScriptRootID: "missing"}, Prompt: "p",
	})
	if msg.Error != "script_root_invalid" {
		t.Fatalf("missing root msg = %+v", msg)
	}
}

func TestRetryMiddlewareStopsOnPermanent(t *testing.T) {
	gen := &fakeGenerator{err: Permanent(errors.New("bad request"))}
	wrapped := Wrap(gen, WithRetry(3, time.Millisecond))
	if _, err := wrapped.Generate(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error")
	}
	if gen.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on permanent)", gen.calls)
	}

	gen = &fakeGenerator{err: errors.New("transient")}
	wrapped = Wrap(gen, WithRetry(3, time.Millisecond))
	if _, err := wrapped.Generate(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error")
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
}

type slowGenerator struct{}

func (slowGenerator) Name() string { return "slow" }
func (slowGenerator) Close() error { return nil }
func (slowGenerator) Generate(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestTimeoutMiddleware(t *testing.T) {
	wrapped := Wrap(slowGenerator{}, WithTimeout(10*time.Millisecond))
	_, err := wrapped.Generate(context.Background(), "p", nil)
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("err = %v, want ErrGenerationTimeout", err)
	}
	var pErr *PermanentError
	if !errors.As(err, &pErr) {
		t.Fatalf("timeout should be permanent, got %v", err)
	}
}

// stubEditor records proposals when open on a root.
type stubEditor struct {
	open     string
	received []*ProposalMessage
}

func (e *stubEditor) OpenRootID() string                { return e.open }
func (e *stubEditor) ProposeChanges(m *ProposalMessage) { e.received = append(e.received, m) }

func TestRouterDeliversOrStashes(t *testing.T) {
	editor := &stubEditor{open: "Root"}
	var toasts []string
	router := NewRouter(editor, func(m string) { toasts = append(toasts, m) })

	direct := &ProposalMessage{RequestID: "r1", ScriptRootID: "Root"}
	router.Route(direct)
	if len(editor.received) != 1 || editor.received[0] != direct {
		t.Fatalf("direct delivery failed: %+v", editor.received)
	}

	editor.open = "Other"
	stashed := &ProposalMessage{RequestID: "r2", ScriptRootID: "Root"}
	router.Route(stashed)
	if len(editor.received) != 1 || router.Pending() != 1 {
		t.Fatalf("expected stash, got received=%d pending=%d", len(editor.received), router.Pending())
	}
	if len(toasts) != 1 || toasts[0] != "AI changes ready" {
		t.Fatalf("toasts = %v", toasts)
	}

	editor.open = "Root"
	router.OnUIEvent()
	if len(editor.received) != 2 || router.Pending() != 0 {
		t.Fatalf("stash retry failed: received=%d pending=%d", len(editor.received), router.Pending())
	}

	router.Route(&ProposalMessage{RequestID: "r3", ScriptRootID: "Root", Error: "generation_failed", Message: "boom"})
	if router.Pending() != 0 || len(editor.received) != 2 {
		t.Fatal("error proposal must not stash or deliver")
	}
	if toasts[len(toasts)-1] != "AI request failed: boom" {
		t.Fatalf("toasts = %v", toasts)
	}
}
