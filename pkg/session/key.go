package session

import (
	"fmt"
	"strings"

	"github.com/hollis/braid/internal/config"
)

// Session keys are opaque, colon-delimited identifiers with two shapes:
//
//	agent:<agentId>:<rest>
//	<rest>
//
// where <rest> is either the literal "global" or
// <provider>:<kind>:<identifier>. The identifier may itself contain colons
// (emails, channel paths) and is kept verbatim; only the first two
// delimiters of <rest> are structural.

const (
	agentKeyPrefix = "agent:"

	// GlobalKey is the session key of the provider-independent session.
	GlobalKey = "global"

	// KindDM is the conversation-kind discriminator for direct messages.
	KindDM = "dm"
)

// Key is the parsed form of a session key. Parsing never fails; fields a
// key does not carry are left zero, so malformed input degrades to the
// safest interpretation rather than erroring.
type Key struct {
	Raw        string
	AgentID    string // from an agent:<id>: prefix, empty when unqualified
	Rest       string // the key with any agent prefix stripped
	Provider   string
	Kind       string
	Identifier string
	Global     bool
}

// ParseKey parses a raw session key. An agent prefix is recognized only
// when both the embedded id and the remainder are non-empty; the remainder
// is never parsed recursively for a second agent prefix.
func ParseKey(raw string) Key {
	k := Key{Raw: raw}

	rest := strings.TrimSpace(raw)
	if rest == "" {
		return k
	}

	if remainder, ok := strings.CutPrefix(rest, agentKeyPrefix); ok {
		if idx := strings.Index(remainder, ":"); idx > 0 && idx < len(remainder)-1 {
			k.AgentID = remainder[:idx]
			rest = remainder[idx+1:]
		}
	}
	k.Rest = rest

	if rest == GlobalKey {
		k.Global = true
		return k
	}

	parts := strings.SplitN(rest, ":", 3)
	if len(parts) == 3 && parts[0] != "" && parts[1] != "" && parts[2] != "" {
		k.Provider = parts[0]
		k.Kind = parts[1]
		k.Identifier = parts[2]
	}

	return k
}

// IsDM reports whether the key addresses a direct-message conversation.
func (k Key) IsDM() bool {
	return k.Kind == KindDM
}

// AgentResolution carries the configured default agent id and the agent id
// the session key selects.
type AgentResolution struct {
	DefaultAgentID string
	SessionAgentID string
}

// ResolveAgent resolves the effective agent identity for a session key.
// Exactly one configured agent must be marked default; zero or several is a
// configuration error. Keys that are not agent-qualified (absent, global,
// provider-qualified, or malformed) resolve to the default agent. An
// agent-qualified key selects its embedded id verbatim, whatever the
// remainder looks like.
func ResolveAgent(sessionKey string, agents []config.AgentConfig) (AgentResolution, error) {
	defaultID := ""
	defaults := 0
	for _, a := range agents {
		if a.Default {
			defaultID = a.ID
			defaults++
		}
	}
	if defaults == 0 {
		return AgentResolution{}, fmt.Errorf("no agent is marked default")
	}
	if defaults > 1 {
		return AgentResolution{}, fmt.Errorf("%d agents are marked default, want exactly one", defaults)
	}

	res := AgentResolution{
		DefaultAgentID: defaultID,
		SessionAgentID: defaultID,
	}
	if k := ParseKey(sessionKey); k.AgentID != "" {
		res.SessionAgentID = k.AgentID
	}
	return res, nil
}
