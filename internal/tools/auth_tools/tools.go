package auth_tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpmerge/internal/authstatus"
	"github.com/teemow/mcpmerge/internal/mcpconfig"
	"github.com/teemow/mcpmerge/internal/server"
	"github.com/teemow/mcpmerge/internal/tools/batch"
	"github.com/teemow/mcpmerge/internal/tools/common"
)

// RegisterAuthTools registers the Google OAuth tools with the MCP server.
func RegisterAuthTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	statusTool := mcp.NewTool("google_auth_status",
		mcp.WithDescription("Report which Google Workspace servers in an MCP configuration have a stored token for their configured account"),
		mcp.WithString("config",
			mcp.Required(),
			mcp.Description("The MCP configuration as JSON text"),
		),
	)
	s.AddTool(statusTool, common.InstrumentedToolHandler("google_auth_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthStatus(ctx, request, sc)
		}))

	startTool := mcp.NewTool("google_auth_start",
		mcp.WithDescription("Get the Google OAuth URL to authorize Workspace access for an account"),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("The Google account email to authorize"),
		),
		mcp.WithString("serverName",
			mcp.Description("The MCP server the authorization is for"),
		),
	)
	s.AddTool(startTool, common.InstrumentedToolHandler("google_auth_start", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthStart(ctx, request, sc)
		}))

	exchangeTool := mcp.NewTool("google_auth_exchange",
		mcp.WithDescription("Exchange a Google OAuth authorization code for tokens and store them for the account"),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("The authorization code from the Google consent page"),
		),
		mcp.WithString("email",
			mcp.Required(),
			mcp.Description("The Google account email the code was issued for"),
		),
		mcp.WithString("redirectUri",
			mcp.Description("The redirect URI used for the authorization (default: the client's first redirect URI)"),
		),
	)
	s.AddTool(exchangeTool, common.InstrumentedToolHandler("google_auth_exchange", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthExchange(ctx, request, sc)
		}))

	revokeTool := mcp.NewTool("google_auth_revoke",
		mcp.WithDescription("Delete the stored Google tokens for one or more accounts"),
		mcp.WithArray("emails",
			mcp.Required(),
			mcp.Description("Account emails whose tokens should be removed"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
	s.AddTool(revokeTool, common.InstrumentedToolHandler("google_auth_revoke", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthRevoke(ctx, request, sc)
		}))

	return nil
}

func handleAuthStatus(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	text, ok := args["config"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return mcp.NewToolResultError("config is required"), nil
	}
	set, err := mcpconfig.Decode([]byte(text))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("config: %v", err)), nil
	}

	status, err := sc.AuthStatus(ctx, set)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check authentication status: %v", err)), nil
	}
	return common.JSONResult(struct {
		Servers map[string]authstatus.Entry `json:"servers"`
		Summary authstatus.Summary          `json:"summary"`
	}{status, authstatus.Summarize(status)})
}

func handleAuthStart(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	email := common.GetAccountFromArgs(args)
	if email == "" {
		return mcp.NewToolResultError("email is required"), nil
	}
	serverName := common.GetServerFromArgs(args)

	authURL, err := sc.Flow().StartAuthorization(ctx, email, serverName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start authorization for %s: %v", email, err)), nil
	}

	result := fmt.Sprintf(`To authorize Google Workspace access for %s:

1. Visit this URL in your browser:
   %s

2. Sign in with the account and grant access
3. Copy the authorization code

4. Call the google_auth_exchange tool with the code and email to complete authentication`, email, authURL)

	return mcp.NewToolResultText(result), nil
}

func handleAuthExchange(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	email := common.GetAccountFromArgs(args)
	if email == "" {
		return mcp.NewToolResultError("email is required"), nil
	}
	code, ok := args["code"].(string)
	if !ok || strings.TrimSpace(code) == "" {
		return mcp.NewToolResultError("code is required"), nil
	}
	redirectURI, _ := args["redirectUri"].(string)

	path, err := sc.Flow().ExchangeCode(ctx, code, email, redirectURI)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to exchange authorization code for %s: %v", email, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Authorization successful for %s. Token saved to %s.", email, path)), nil
}

func handleAuthRevoke(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	emails, err := batch.ParseStringOrArray(args["emails"], "emails")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results := batch.ProcessBatch(ctx, emails, func(ctx context.Context, email string) (any, error) {
		revoked, err := sc.Flow().Revoke(ctx, email)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"revoked": revoked}, nil
	})
	out, err := batch.FormatResults(results)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}
