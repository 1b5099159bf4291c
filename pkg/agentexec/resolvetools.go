package agentexec

import "context"

// resolveServerName is the config key the DaVinci Resolve MCP server is
// expected under.
const resolveServerName = "davinci-resolve"

// resolveToolDef is a built-in schema for one Resolve scripting operation.
// These mirror the tool surface of the Resolve MCP server so the model
// sees a stable tool table even when the server's ListTools response is
// unavailable at connect time.
type resolveToolDef struct {
	name        string
	description string
	params      map[string]any
}

func strParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

var resolveToolDefs = []resolveToolDef{
	{
		name:        "switch_page",
		description: "Switch to a Resolve page: media, cut, edit, fusion, color, fairlight, or deliver.",
		params:      map[string]any{"page": strParam("Target page name")},
	},
	{
		name:        "open_project",
		description: "Open a project by name in the current project manager folder.",
		params:      map[string]any{"name": strParam("Project name")},
	},
	{
		name:        "create_project",
		description: "Create a new project with the given name.",
		params:      map[string]any{"name": strParam("Project name")},
	},
	{
		name:        "save_project",
		description: "Save the current project.",
		params:      map[string]any{},
	},
	{
		name:        "set_project_setting",
		description: "Set a project setting to a value, e.g. timelineFrameRate.",
		params: map[string]any{
			"setting_name":  strParam("Setting key"),
			"setting_value": strParam("Setting value"),
		},
	},
	{
		name:        "create_timeline",
		description: "Create an empty timeline with the given name.",
		params:      map[string]any{"name": strParam("Timeline name")},
	},
	{
		name:        "set_current_timeline",
		description: "Make the named timeline the current one.",
		params:      map[string]any{"name": strParam("Timeline name")},
	},
	{
		name:        "add_marker",
		description: "Add a marker to the current timeline at a frame.",
		params: map[string]any{
			"frame": map[string]any{"type": "integer", "description": "Frame number; defaults to the playhead"},
			"color": strParam("Marker color, e.g. Blue, Red, Green"),
			"note":  strParam("Marker note text"),
		},
	},
	{
		name:        "import_media",
		description: "Import a media file into the current media pool folder.",
		params:      map[string]any{"file_path": strParam("Absolute path of the media file")},
	},
	{
		name:        "create_bin",
		description: "Create a bin (folder) in the media pool.",
		params:      map[string]any{"name": strParam("Bin name")},
	},
	{
		name:        "list_timelines_tool",
		description: "List the names of all timelines in the current project.",
		params:      map[string]any{},
	},
	{
		name:        "add_clip_to_timeline",
		description: "Append a media pool clip to a timeline by clip name.",
		params: map[string]any{
			"clip_name":     strParam("Clip name in the media pool"),
			"timeline_name": strParam("Target timeline; defaults to the current one"),
		},
	},
}

// RegisterResolveTools adds the built-in Resolve tool definitions, routed
// through the Resolve MCP server connection. Names the server already
// advertised keep the server's own schema; only the gaps are filled.
// No-op when no Resolve server is configured.
func RegisterResolveTools(r *Registry, m *Manager) {
	if !m.HasServer(resolveServerName) {
		return
	}
	for _, def := range resolveToolDefs {
		toolName := def.name
		r.Register(Tool{
			Name:        def.name,
			Description: def.description,
			Parameters:  def.params,
			Call: func(ctx context.Context, args map[string]any) (string, error) {
				return m.CallTool(ctx, resolveServerName, toolName, args)
			},
		})
	}
}
