package dispatcher

import (
	"encoding/json"
	"regexp"
)

// destructiveToolNames is the hard-coded destructive set: tools that write
// to the filesystem, run arbitrary processes, or otherwise mutate
// externally observable state. A tool in this set requires confirmation
// even if its handler reports IsMutating() == false, and conversely a
// handler reporting IsMutating() == true requires confirmation even if its
// name isn't listed here — the two checks are independent "or" conditions.
//
// Grounded on the teacher's BannedCommands set (internal/shell/block.go),
// generalized from "block outright" to "require confirmation, then allow
// if approved".
var destructiveToolNames = map[string]bool{
	"write_file":         true,
	"edit_file":          true,
	"edit_file_anchored": true,
	"bash":               true,
	"manage_symbols":     true,
	"manage_rag":         true,
	"delegate_task":      true,
	"cancel_worker":      true,
}

// Policy evaluates the confirmation requirement for a tool call.
type Policy struct {
	AutoApproveAll bool
	AutoApprove    map[string]bool // tool name or qualified name -> auto-approved
	AutoApproveAny bool            // true if "*" is in the configured list
	DangerRegexes  []*regexp.Regexp
}

// NewPolicy compiles a Policy from an AgentConfig-style input. Regex
// compilation errors are skipped silently (a malformed pattern should not
// crash the dispatcher); callers wanting strict validation should compile
// and check their own regex list before construction.
func NewPolicy(autoApproveAll bool, autoApproveNames []string, dangerPatterns []string) *Policy {
	p := &Policy{
		AutoApproveAll: autoApproveAll,
		AutoApprove:    make(map[string]bool, len(autoApproveNames)),
	}
	for _, name := range autoApproveNames {
		if name == "*" {
			p.AutoApproveAny = true
			continue
		}
		p.AutoApprove[name] = true
	}
	for _, pat := range dangerPatterns {
		if re, err := regexp.Compile(pat); err == nil {
			p.DangerRegexes = append(p.DangerRegexes, re)
		}
	}
	return p
}

// isAutoApproved reports whether name (or its qualified form) bypasses
// confirmation.
func (p *Policy) isAutoApproved(name string) bool {
	if p == nil {
		return false
	}
	if p.AutoApproveAll || p.AutoApproveAny {
		return true
	}
	return p.AutoApprove[name]
}

// matchDanger returns the first danger regex that matches a string view of
// the tool input, or "" if none match.
func (p *Policy) matchDanger(input json.RawMessage) string {
	if p == nil || len(p.DangerRegexes) == 0 {
		return ""
	}
	view := string(input)
	for _, re := range p.DangerRegexes {
		if re.MatchString(view) {
			return re.String()
		}
	}
	return ""
}

// RequiresConfirmation evaluates whether a call to a tool with the given
// name, mutating flag, and input requires confirmation, and whether a
// danger pattern escalated it. Auto-approval (via AutoApproveAll, an exact
// name match, or the "*" wildcard) always suppresses confirmation,
// regardless of the destructive/mutating/danger-regex checks — per §8
// property 5, membership in the auto-approve list is authoritative.
func (p *Policy) RequiresConfirmation(name string, mutating bool, input json.RawMessage) (required bool, dangerous bool, matchedRegex string) {
	if p.isAutoApproved(name) {
		return false, false, ""
	}

	matchedRegex = p.matchDanger(input)
	dangerous = matchedRegex != ""

	required = destructiveToolNames[name] || mutating || dangerous
	return required, dangerous, matchedRegex
}
