package mcp

import "github.com/mark3labs/mcp-go/mcp"

// createSessionTool defines the create_session MCP tool.
var createSessionTool = mcp.NewTool("create_session",
	mcp.WithDescription("Create a new intake session. Returns the session id."),
)

// submitTurnTool defines the submit_turn MCP tool.
var submitTurnTool = mcp.NewTool("submit_turn",
	mcp.WithDescription("Submit a conversation turn's proposed field updates. Returns the record snapshot, readiness score and surface cards."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session to submit the turn to"),
	),
	mcp.WithString("updates",
		mcp.Description(`JSON array of field updates: [{"field_path":"...","value":...,"correction":false}]`),
	),
	mcp.WithString("text",
		mcp.Description("Raw turn text to run through extraction instead of explicit updates"),
	),
)

// checkActionTool defines the check_action MCP tool.
var checkActionTool = mcp.NewTool("check_action",
	mcp.WithDescription("Check whether an action is currently feasible for a session. Returns the complete list of unmet conditions when blocked."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session to check against"),
	),
	mcp.WithString("action_id",
		mcp.Required(),
		mcp.Description("Action id from the workflow definition"),
	),
)

// getArtifactTool defines the get_artifact MCP tool.
var getArtifactTool = mcp.NewTool("get_artifact",
	mcp.WithDescription("Get a generated artifact's lifecycle state and content."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session the artifact belongs to"),
	),
	mcp.WithString("artifact_id",
		mcp.Required(),
		mcp.Description("Artifact id from the workflow definition"),
	),
)

// getSurfaceTool defines the get_surface MCP tool.
var getSurfaceTool = mcp.NewTool("get_surface",
	mcp.WithDescription("Get the current prioritized surface cards for a session."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("Session to project"),
	),
)
