package sandbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProject_NilContext(t *testing.T) {
	assert.Nil(t, Project(nil, nil))
	assert.Nil(t, Project(nil, &ElevationPolicy{Enabled: true}))
}

func TestProject_BasicFields(t *testing.T) {
	sc := &Context{
		Enabled:         true,
		SessionKey:      "telegram:dm:123",
		WorkspaceDir:    "/work",
		WorkspaceAccess: AccessRW,
		ContainerName:   "braid-sbx-assistant",
	}

	info := Project(sc, nil)
	require.NotNil(t, info)

	assert.True(t, info.Enabled)
	assert.Equal(t, "/work", info.WorkspaceDir)
	assert.Equal(t, AccessRW, info.WorkspaceAccess)
	assert.Equal(t, "braid-sbx-assistant", info.ContainerName)
	assert.Empty(t, info.AgentWorkspaceMount)
	assert.Nil(t, info.Elevated)
}

func TestProject_AgentWorkspaceMount(t *testing.T) {
	tests := []struct {
		name      string
		workspace string
		agentDir  string
		wantMount string
	}{
		{"differs", "/work", "/agents/beta", "/agents/beta"},
		{"same path omitted", "/work", "/work", ""},
		{"unset omitted", "/work", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Project(&Context{
				WorkspaceDir:      tt.workspace,
				AgentWorkspaceDir: tt.agentDir,
			}, nil)
			require.NotNil(t, info)
			assert.Equal(t, tt.wantMount, info.AgentWorkspaceMount)
		})
	}
}

func TestProject_BrowserGatedByHostControl(t *testing.T) {
	sc := &Context{
		Enabled: true,
		Browser: &BrowserEndpoints{
			ControlURL:       "http://127.0.0.1:9222",
			NoVNCURL:         "http://127.0.0.1:6080",
			AllowHostControl: false,
		},
	}

	info := Project(sc, nil)
	require.NotNil(t, info)

	assert.False(t, info.HostBrowserAllowed)
	assert.Empty(t, info.BrowserControlURL)
	assert.Empty(t, info.BrowserNoVNCURL)

	sc.Browser.AllowHostControl = true
	info = Project(sc, nil)
	require.NotNil(t, info)

	assert.True(t, info.HostBrowserAllowed)
	assert.Equal(t, "http://127.0.0.1:9222", info.BrowserControlURL)
	assert.Equal(t, "http://127.0.0.1:6080", info.BrowserNoVNCURL)
}

func TestProject_NoBrowser(t *testing.T) {
	info := Project(&Context{Enabled: true}, nil)
	require.NotNil(t, info)

	assert.False(t, info.HostBrowserAllowed)
	assert.Empty(t, info.BrowserControlURL)
}

func TestProject_ElevationOnlyWhenEnabled(t *testing.T) {
	sc := &Context{Enabled: true}

	info := Project(sc, &ElevationPolicy{Enabled: false, Allowed: []string{"ops"}})
	require.NotNil(t, info)
	assert.Nil(t, info.Elevated)

	info = Project(sc, &ElevationPolicy{
		Enabled:      true,
		Allowed:      []string{"ops", "admin"},
		DefaultLevel: "ask",
	})
	require.NotNil(t, info)
	require.NotNil(t, info.Elevated)
	assert.Equal(t, []string{"ops", "admin"}, info.Elevated.Allowed)
	assert.Equal(t, "ask", info.Elevated.DefaultLevel)
}

func TestProject_NeverLeaksSessionKeyOrToolFilter(t *testing.T) {
	sc := &Context{
		Enabled:    true,
		SessionKey: "agent:beta:telegram:dm:secret-user",
		Tools:      ToolFilter{Allow: []string{"exec"}, Deny: []string{"browser"}},
	}

	info := Project(sc, nil)
	data, err := json.Marshal(info)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "secret-user")
	assert.NotContains(t, string(data), "exec")
	assert.NotContains(t, string(data), "browser")
}

func TestPromptBlock(t *testing.T) {
	var nilInfo *PromptInfo
	assert.Empty(t, nilInfo.PromptBlock())

	info := Project(&Context{Enabled: true, WorkspaceDir: "/work"}, nil)
	block := info.PromptBlock()

	assert.Contains(t, block, "Execution sandbox:")
	assert.Contains(t, block, `"workspaceDir": "/work"`)
}
