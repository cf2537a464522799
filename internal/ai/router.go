package ai

import "sync"

// Editor is the open script editor surface, if any.
type Editor interface {
	// OpenRootID returns the script root id the editor is showing, or "".
	OpenRootID() string
	ProposeChanges(msg *ProposalMessage)
}

// Router delivers incoming proposals to the editor when it is open on the
// matching script root, and stashes them otherwise until the next UI event.
type Router struct {
	mu     sync.Mutex
	stash  map[string]*ProposalMessage
	editor Editor
	toast  func(message string)
}

// NewRouter builds a router. toast may be nil.
func NewRouter(editor Editor, toast func(message string)) *Router {
	return &Router{
		stash:  map[string]*ProposalMessage{},
		editor: editor,
		toast:  toast,
	}
}

// Route handles one scriptAiProposal. Error proposals only toast; successful
// ones reach the editor directly or via the stash.
func (r *Router) Route(msg *ProposalMessage) {
	if msg == nil {
		return
	}
	if msg.Error != "" {
		r.notify("AI request failed: " + msg.Message)
		return
	}
	if r.deliver(msg) {
		return
	}
	key := msg.ScriptRootID
	if key == "" {
		key = msg.RequestID
	}
	r.mu.Lock()
	r.stash[key] = msg
	r.mu.Unlock()
	r.notify("AI changes ready")
}

// OnUIEvent re-attempts stashed proposals; call it whenever the UI changes
// (editor opened, tab switched).
func (r *Router) OnUIEvent() {
	r.mu.Lock()
	pending := make([]*ProposalMessage, 0, len(r.stash))
	for _, msg := range r.stash {
		pending = append(pending, msg)
	}
	r.mu.Unlock()

	for _, msg := range pending {
		if r.deliver(msg) {
			r.mu.Lock()
			key := msg.ScriptRootID
			if key == "" {
				key = msg.RequestID
			}
			delete(r.stash, key)
			r.mu.Unlock()
		}
	}
}

// Pending returns the number of stashed proposals.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stash)
}

func (r *Router) deliver(msg *ProposalMessage) bool {
	if r.editor == nil {
		return false
	}
	open := r.editor.OpenRootID()
	if open == "" || open != msg.ScriptRootID {
		return false
	}
	r.editor.ProposeChanges(msg)
	return true
}

func (r *Router) notify(message string) {
	if r.toast != nil {
		r.toast(message)
	}
}
