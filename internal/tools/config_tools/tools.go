package config_tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/instrumentation"
	"github.com/teemow/mcpmerge/internal/mcpconfig"
	"github.com/teemow/mcpmerge/internal/server"
	"github.com/teemow/mcpmerge/internal/tools/batch"
	"github.com/teemow/mcpmerge/internal/tools/common"
)

// RegisterConfigTools registers the merge and extension tools with the MCP
// server.
func RegisterConfigTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	mergeTool := mcp.NewTool("mcp_merge_servers",
		mcp.WithDescription("Merge new MCP server entries into an existing MCP client configuration. Returns the merged configuration in the shape of the existing one plus a report of added and replaced servers."),
		mcp.WithString("existingConfig",
			mcp.Required(),
			mcp.Description("The existing configuration as JSON text, either {\"mcpServers\": {...}} or a bare name -> entry mapping"),
		),
		mcp.WithString("newServers",
			mcp.Required(),
			mcp.Description("The servers to add as JSON text, in either shape"),
		),
		mcp.WithObject("serverNameMap",
			mcp.Description("Optional renames applied to incoming server names (old name -> new name)"),
		),
	)
	s.AddTool(mergeTool, common.InstrumentedToolHandler("mcp_merge_servers", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleMergeServers(ctx, request, sc)
		}))

	listTool := mcp.NewTool("extensions_list",
		mcp.WithDescription("List the desktop extensions installed in the extensions directory"),
	)
	s.AddTool(listTool, common.InstrumentedToolHandler("extensions_list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListExtensions(ctx, request, sc)
		}))

	convertTool := mcp.NewTool("extensions_convert",
		mcp.WithDescription("Convert installed desktop extensions into MCP server entries. Converts all extensions unless ids are given."),
		mcp.WithArray("ids",
			mcp.Description("Extension ids or names to convert (default: all)"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithBoolean("shareCredentials",
			mcp.Description("Point converted servers at the shared Google credential directory (default: server setting)"),
		),
	)
	s.AddTool(convertTool, common.InstrumentedToolHandler("extensions_convert", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleConvertExtensions(ctx, request, sc)
		}))

	return nil
}

// mergeResult is the JSON body returned by mcp_merge_servers.
type mergeResult struct {
	Merged          *mcpconfig.ServerConfigSet `json:"merged"`
	AddedServers    []string                   `json:"addedServers"`
	ReplacedServers []string                   `json:"replacedServers"`
	TotalServers    int                        `json:"totalServers"`
}

func handleMergeServers(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	existingText, ok := args["existingConfig"].(string)
	if !ok || existingText == "" {
		return mcp.NewToolResultError("existingConfig is required"), nil
	}
	newText, ok := args["newServers"].(string)
	if !ok || newText == "" {
		return mcp.NewToolResultError("newServers is required"), nil
	}
	renames, err := parseRenameMap(args["serverNameMap"])
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	existing, err := mcpconfig.Decode([]byte(existingText))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("existingConfig: %v", err)), nil
	}
	incoming, err := mcpconfig.Decode([]byte(newText))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("newServers: %v", err)), nil
	}

	merged, report, err := sc.Merge(ctx, instrumentation.SourceMCP, existing, incoming, renames)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to merge configurations: %v", err)), nil
	}
	return common.JSONResult(mergeResult{
		Merged:          merged,
		AddedServers:    report.Added,
		ReplacedServers: report.Replaced,
		TotalServers:    report.Total,
	})
}

// parseRenameMap accepts a JSON object argument whose values are strings.
func parseRenameMap(v interface{}) (mcpconfig.RenameMap, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.New("serverNameMap must be an object")
	}
	renames := make(mcpconfig.RenameMap, len(obj))
	for from, to := range obj {
		name, ok := to.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("serverNameMap[%q] must be a non-empty string", from)
		}
		renames[from] = name
	}
	return renames, nil
}

// extensionSummary is the per-extension entry returned by extensions_list.
type extensionSummary struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
	ServerName  string `json:"serverName"`
	Path        string `json:"path"`
	Convertible bool   `json:"convertible"`
}

func handleListExtensions(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	manifests, err := sc.ListExtensions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list extensions: %v", err)), nil
	}

	summaries := make([]extensionSummary, 0, len(manifests))
	for _, m := range manifests {
		summaries = append(summaries, extensionSummary{
			ID:          m.ID,
			Name:        m.Name,
			Title:       m.Title(),
			Version:     m.Version,
			Description: m.Description,
			ServerName:  m.ServerName(),
			Path:        m.Path,
			Convertible: m.Server != nil && m.Server.MCPConfig != nil && m.Server.MCPConfig.Command != "",
		})
	}
	return common.JSONResult(summaries)
}

func handleConvertExtensions(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	ids, err := batch.ParseOptionalStringOrArray(args["ids"], "ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	share := common.GetBoolArg(args, "shareCredentials", sc.ShareCredentials())

	result, err := sc.ConvertExtensions(ctx, ids, share)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to convert extensions: %v", err)), nil
	}
	return common.JSONResult(struct {
		*extension.ConvertAllResult
		Converted int `json:"converted"`
	}{result, len(result.Conversions)})
}
