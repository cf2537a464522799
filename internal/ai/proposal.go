package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoFiles means the model output held no usable files array.
var ErrNoFiles = errors.New("ai proposal: missing files array")

// ProposalFile is one replacement script file.
type ProposalFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Proposal is the parsed, validated result of one generation.
type Proposal struct {
	Summary string         `json:"summary,omitempty"`
	Files   []ProposalFile `json:"files"`
}

// ParseProposal extracts a proposal from raw model output. Markdown fences
// around the JSON are tolerated; anything before the first '{' and after the
// last '}' is discarded. Duplicate paths keep the first occurrence; paths
// rejected by allow are dropped. allow == nil admits every path.
func ParseProposal(raw string, allow func(path string) bool) (*Proposal, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, ErrNoFiles
	}

	var decoded struct {
		Summary string `json:"summary"`
		Files   []struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return nil, errors.Join(ErrNoFiles, err)
	}
	if decoded.Files == nil {
		return nil, ErrNoFiles
	}

	proposal := &Proposal{Summary: strings.TrimSpace(decoded.Summary), Files: []ProposalFile{}}
	seen := map[string]bool{}
	for _, f := range decoded.Files {
		path := strings.TrimSpace(f.Path)
		if path == "" || seen[path] {
			continue
		}
		if allow != nil && !allow(path) {
			continue
		}
		seen[path] = true
		proposal.Files = append(proposal.Files, ProposalFile{Path: path, Content: f.Content})
	}
	return proposal, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
