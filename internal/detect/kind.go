package detect

// AgentKind identifies the client that produced a request.
type AgentKind string

const (
	ClaudeCode AgentKind = "claude-code"
	Cursor     AgentKind = "cursor"
	Windsurf   AgentKind = "windsurf"
	OpenCode   AgentKind = "opencode"
	Aider      AgentKind = "aider"
	Continue   AgentKind = "continue"
	Copilot    AgentKind = "copilot"
	UnknownAI  AgentKind = "unknown-ai"
	Human      AgentKind = "human"
)

// kinds is the closed set of valid AgentKind values.
var kinds = map[AgentKind]bool{
	ClaudeCode: true,
	Cursor:     true,
	Windsurf:   true,
	OpenCode:   true,
	Aider:      true,
	Continue:   true,
	Copilot:    true,
	UnknownAI:  true,
	Human:      true,
}

// ParseAgentKind returns the AgentKind named by s.
func ParseAgentKind(s string) (AgentKind, bool) {
	k := AgentKind(s)
	return k, kinds[k]
}

// IsAI reports whether the kind denotes automated traffic.
func (k AgentKind) IsAI() bool {
	return k != Human && kinds[k]
}

func (k AgentKind) String() string {
	return string(k)
}
