package sandbox

import "encoding/json"

// PromptInfo is the reduced, prompt-safe projection of a sandbox context.
// It is what the model is told about its execution environment; anything not
// in this struct never reaches a prompt. Secrets, raw tool filters and the
// full session key stay behind.
type PromptInfo struct {
	Enabled bool `json:"enabled"`

	// WorkspaceDir is the path the model should treat as its working
	// directory. AgentWorkspaceMount is present only when the agent-visible
	// mount differs from the workspace itself.
	WorkspaceDir        string `json:"workspaceDir,omitempty"`
	AgentWorkspaceMount string `json:"agentWorkspaceMount,omitempty"`
	WorkspaceAccess     string `json:"workspaceAccess,omitempty"`

	ContainerName string `json:"containerName,omitempty"`

	// Browser endpoints are exposed only when the session is allowed to
	// drive the host browser; HostBrowserAllowed mirrors that permission
	// either way so the model never has to guess.
	BrowserControlURL  string `json:"browserControlUrl,omitempty"`
	BrowserNoVNCURL    string `json:"browserNoVncUrl,omitempty"`
	HostBrowserAllowed bool   `json:"hostBrowserAllowed"`

	Elevated *ElevatedInfo `json:"elevated,omitempty"`
}

// ElevatedInfo is the prompt-safe view of an enabled elevation policy.
type ElevatedInfo struct {
	Allowed      []string `json:"allowed,omitempty"`
	DefaultLevel string   `json:"defaultLevel,omitempty"`
}

// Project maps a sandbox context (and optional elevation policy) to its
// prompt-safe projection. A nil context projects to nil. The projection is
// a fresh value every call; mutating it never touches the source context.
func Project(sc *Context, policy *ElevationPolicy) *PromptInfo {
	if sc == nil {
		return nil
	}

	info := &PromptInfo{
		Enabled:         sc.Enabled,
		WorkspaceDir:    sc.WorkspaceDir,
		WorkspaceAccess: sc.WorkspaceAccess,
		ContainerName:   sc.ContainerName,
	}

	if sc.AgentWorkspaceDir != "" && sc.AgentWorkspaceDir != sc.WorkspaceDir {
		info.AgentWorkspaceMount = sc.AgentWorkspaceDir
	}

	if sc.Browser != nil {
		info.HostBrowserAllowed = sc.Browser.AllowHostControl
		if sc.Browser.AllowHostControl {
			info.BrowserControlURL = sc.Browser.ControlURL
			info.BrowserNoVNCURL = sc.Browser.NoVNCURL
		}
	}

	if policy != nil && policy.Enabled {
		info.Elevated = &ElevatedInfo{
			Allowed:      append([]string(nil), policy.Allowed...),
			DefaultLevel: policy.DefaultLevel,
		}
	}

	return info
}

// PromptBlock renders the projection as a fragment for system-prompt
// injection. Nil and unrenderable projections yield the empty string.
func (pi *PromptInfo) PromptBlock() string {
	if pi == nil {
		return ""
	}
	data, err := json.MarshalIndent(pi, "", "  ")
	if err != nil {
		return ""
	}
	return "Execution sandbox:\n" + string(data)
}
