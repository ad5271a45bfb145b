package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/intakehq/intake/internal/record"
)

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, err := s.manager.Create(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("creating session: %v", err)), nil
	}
	return jsonResult(sess)
}

func (s *Server) handleSubmitTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	var updates []record.FieldUpdate
	if raw := request.GetString("updates", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &updates); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid updates JSON: %v", err)), nil
		}
	}
	text := request.GetString("text", "")

	if len(updates) == 0 && text == "" {
		return mcp.NewToolResultError("either updates or text is required"), nil
	}

	result, err := s.manager.SubmitTurn(ctx, sessionID, "", updates, text)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submitting turn: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleCheckAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	actionID, err := request.RequireString("action_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: action_id"), nil
	}

	res, err := s.manager.CheckAction(ctx, sessionID, actionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("checking action: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGetArtifact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	artifactID, err := request.RequireString("artifact_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: artifact_id"), nil
	}

	a, err := s.manager.GetArtifact(ctx, sessionID, artifactID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("getting artifact: %v", err)), nil
	}
	return jsonResult(a)
}

func (s *Server) handleGetSurface(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	cards, err := s.manager.GetSurface(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("getting surface: %v", err)), nil
	}
	return jsonResult(cards)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
