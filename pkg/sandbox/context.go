package sandbox

import (
	"fmt"
	"strings"

	"github.com/hollis/braid/internal/config"
)

// Mode defines when turns run sandboxed
type Mode string

const (
	// ModeOff disables sandboxing
	ModeOff Mode = "off"
	// ModeAll sandboxes every session
	ModeAll Mode = "all"
	// ModeNonMain sandboxes every session except the global one
	ModeNonMain Mode = "non-main"
)

// Scope defines how sandbox instances are shared
type Scope string

const (
	// ScopeAgent shares one sandbox per agent
	ScopeAgent Scope = "agent"
	// ScopeSession creates one sandbox per session
	ScopeSession Scope = "session"
)

// Workspace access levels inside the sandbox.
const (
	AccessNone = "none"
	AccessRO   = "ro"
	AccessRW   = "rw"
)

// BrowserEndpoints describes the sandboxed browser attached to a session.
// The browser itself is managed by an external collaborator; only its
// endpoints travel through here.
type BrowserEndpoints struct {
	ControlURL       string `json:"control_url"`
	NoVNCURL         string `json:"no_vnc_url"`
	AllowHostControl bool   `json:"allow_host_control"`
}

// ToolFilter restricts which tools may run inside the sandbox.
type ToolFilter struct {
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Context is the full internal view of a session's execution sandbox. It is
// assembled once per turn and treated as read-only from then on. Callers
// never hand this struct to a model verbatim; Project reduces it to the
// prompt-safe subset first.
type Context struct {
	Enabled           bool              `json:"enabled"`
	SessionKey        string            `json:"session_key"`
	WorkspaceDir      string            `json:"workspace_dir"`
	AgentWorkspaceDir string            `json:"agent_workspace_dir,omitempty"`
	WorkspaceAccess   string            `json:"workspace_access,omitempty"`
	ContainerName     string            `json:"container_name,omitempty"`
	Tools             ToolFilter        `json:"tools,omitempty"`
	Browser           *BrowserEndpoints `json:"browser,omitempty"`
}

// ElevationPolicy gates sandbox escape for privileged sessions. It is
// supplied alongside the Context and projected only when enabled.
type ElevationPolicy struct {
	Enabled      bool     `json:"enabled"`
	Allowed      []string `json:"allowed,omitempty"`
	DefaultLevel string   `json:"default_level,omitempty"`
}

// Active reports whether the context would tell a model anything: an
// enabled sandbox or an attached browser. Inactive contexts are skipped at
// prompt time so unsandboxed turns carry no sandbox block.
func (sc *Context) Active() bool {
	if sc == nil {
		return false
	}
	return sc.Enabled || sc.Browser != nil
}

// ModeEnabled reports whether a session key is sandboxed under mode.
// Unrecognized modes fall back to off.
func ModeEnabled(mode string, sessionKey string) bool {
	switch Mode(mode) {
	case ModeAll:
		return true
	case ModeNonMain:
		return sessionKey != "" && sessionKey != "global"
	default:
		return false
	}
}

// FromAgentConfig builds the sandbox context and elevation policy for one
// turn from an agent's configuration block. A disabled sandbox still yields
// a context (Enabled false) so downstream consumers see a uniform shape; a
// nil agent config yields nil.
func FromAgentConfig(agentCfg *config.AgentConfig, sessionKey, workspaceDir string) (*Context, *ElevationPolicy) {
	if agentCfg == nil {
		return nil, nil
	}

	sb := agentCfg.Sandbox
	sc := &Context{
		Enabled:         ModeEnabled(sb.Mode, sessionKey),
		SessionKey:      sessionKey,
		WorkspaceDir:    workspaceDir,
		WorkspaceAccess: sb.WorkspaceAccess,
		Tools: ToolFilter{
			Allow: agentCfg.Tools.Allow,
			Deny:  agentCfg.Tools.Deny,
		},
	}

	if agentCfg.Workspace != "" {
		sc.AgentWorkspaceDir = agentCfg.Workspace
	}

	if sc.Enabled {
		sc.ContainerName = ContainerName(agentCfg.ID, sessionKey, Scope(sb.Scope))
	}

	if sb.Browser.Enabled {
		sc.Browser = &BrowserEndpoints{
			ControlURL:       sb.Browser.ControlURL,
			NoVNCURL:         sb.Browser.NoVNCURL,
			AllowHostControl: sb.Browser.AllowHostControl,
		}
	}

	var policy *ElevationPolicy
	if sb.Elevated.Enabled {
		policy = &ElevationPolicy{
			Enabled:      true,
			Allowed:      sb.Elevated.Allowed,
			DefaultLevel: sb.Elevated.DefaultLevel,
		}
	}

	return sc, policy
}

// ContainerName derives a stable container name for an agent or session
// scope. Session keys carry colons and other characters container runtimes
// reject, so the name is sanitized.
func ContainerName(agentID, sessionKey string, scope Scope) string {
	suffix := agentID
	if scope == ScopeSession && sessionKey != "" {
		suffix = sessionKey
	}
	return fmt.Sprintf("braid-sbx-%s", sanitizeName(suffix))
}

func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
