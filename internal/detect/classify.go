package detect

import (
	"net/http"
	"strings"
)

// Verdict is the classification outcome for a single request.
// Kind is Human exactly when IsAgent is false.
type Verdict struct {
	IsAgent bool      `json:"is_agent"`
	Kind    AgentKind `json:"agent_type"`
}

// HumanVerdict is returned for all traffic that does not look automated.
var HumanVerdict = Verdict{IsAgent: false, Kind: Human}

// AIFlag returns 1 for agent traffic and 0 otherwise.
func (v Verdict) AIFlag() int {
	if v.IsAgent {
		return 1
	}
	return 0
}

// Rule maps User-Agent substrings to an agent kind.
type Rule struct {
	Patterns []string
	Kind     AgentKind
}

// matches reports whether any pattern is contained in the lower-cased ua.
func (r Rule) matches(ua string) bool {
	for _, p := range r.Patterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}

// Rules is evaluated in order, first match wins. The order is relied on by
// existing analytics history and must not change.
var Rules = []Rule{
	{Patterns: []string{"claude", "anthropic"}, Kind: ClaudeCode},
	{Patterns: []string{"cursor"}, Kind: Cursor},
	{Patterns: []string{"windsurf", "codeium"}, Kind: Windsurf},
	{Patterns: []string{"opencode", "ohmycode"}, Kind: OpenCode},
	{Patterns: []string{"aider"}, Kind: Aider},
	{Patterns: []string{"continue"}, Kind: Continue},
	{Patterns: []string{"copilot", "github"}, Kind: Copilot},
}

// Classify inspects the Accept and User-Agent headers of a request.
// Missing headers are treated as empty strings.
func Classify(h http.Header) Verdict {
	return ClassifyValues(h.Get("Accept"), h.Get("User-Agent"))
}

// ClassifyValues applies the classification to raw header values.
//
// A request is agent traffic when it asks for markdown, or when plain text is
// its primary preference. Browsers list text/html first and may carry
// text/plain later as a low-quality fallback, so that case stays human.
func ClassifyValues(accept, userAgent string) Verdict {
	wantsMarkdown := strings.Contains(accept, "text/markdown")
	wantsPlainText := strings.Contains(accept, "text/plain") && !strings.HasPrefix(accept, "text/html")

	if !wantsMarkdown && !wantsPlainText {
		return HumanVerdict
	}

	return Verdict{IsAgent: true, Kind: MatchAgent(userAgent)}
}

// MatchAgent resolves a User-Agent against Rules. Matching is
// case-insensitive substring containment.
func MatchAgent(userAgent string) AgentKind {
	ua := strings.ToLower(userAgent)
	for _, r := range Rules {
		if r.matches(ua) {
			return r.Kind
		}
	}
	return UnknownAI
}
