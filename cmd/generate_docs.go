package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"text/template"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/mcpmerge/internal/appconfig"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate a markdown reference of every MCP tool mcpmerge registers.

The reference is built from the live tool definitions, so it always matches
the argument names and descriptions clients see.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFile == "" {
				return writeToolDocs(cmd.Context(), cmd.OutOrStdout())
			}
			if err := runGenerateDocs(outputFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Documentation written to: %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func runGenerateDocs(outputFile string) error {
	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writeToolDocs(context.Background(), f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeToolDocs registers the tools against a throwaway credential store and
// renders their reference to w.
func writeToolDocs(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp("", "mcpmerge-docs-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	sc, _, err := newServerContext(ctx, appconfig.Default(dir), contextOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = sc.Shutdown()
	}()

	mcpSrv := mcpserver.NewMCPServer("mcpmerge", version, mcpserver.WithToolCapabilities(true))
	if err := registerAllTools(mcpSrv, sc); err != nil {
		return err
	}

	tools := make([]mcp.Tool, 0)
	for _, st := range mcpSrv.ListTools() {
		tools = append(tools, st.Tool)
	}
	return docsTemplate.Execute(w, buildToolDocs(tools))
}

type toolCategory struct {
	Title string
	Tools []toolDoc
}

func (c toolCategory) Anchor() string {
	return strings.ToLower(strings.ReplaceAll(c.Title, " ", "-"))
}

type toolDoc struct {
	Name        string
	Description string
	Args        []argDoc
}

type argDoc struct {
	Name        string
	Type        string
	Required    bool
	Description string
	Enum        []string
}

// categoryForTool groups tools by their name prefix.
func categoryForTool(name string) string {
	prefix, _, _ := strings.Cut(name, "_")
	switch prefix {
	case "mcp":
		return "Configuration Tools"
	case "extensions":
		return "Extension Tools"
	case "google":
		return "Google Auth Tools"
	default:
		return "Other"
	}
}

// buildToolDocs sorts categories by title and tools by name.
func buildToolDocs(tools []mcp.Tool) []toolCategory {
	byCategory := make(map[string][]toolDoc)
	for _, tool := range tools {
		title := categoryForTool(tool.Name)
		byCategory[title] = append(byCategory[title], describeTool(tool))
	}

	categories := make([]toolCategory, 0, len(byCategory))
	for _, title := range slices.Sorted(maps.Keys(byCategory)) {
		docs := byCategory[title]
		slices.SortFunc(docs, func(a, b toolDoc) int { return strings.Compare(a.Name, b.Name) })
		categories = append(categories, toolCategory{Title: title, Tools: docs})
	}
	return categories
}

func describeTool(tool mcp.Tool) toolDoc {
	doc := toolDoc{Name: tool.Name, Description: tool.Description}
	for _, name := range slices.Sorted(maps.Keys(tool.InputSchema.Properties)) {
		prop, ok := tool.InputSchema.Properties[name].(map[string]any)
		if !ok {
			continue
		}
		arg := argDoc{
			Name:     name,
			Type:     "any",
			Required: slices.Contains(tool.InputSchema.Required, name),
		}
		if t, ok := prop["type"].(string); ok {
			arg.Type = t
		}
		arg.Description, _ = prop["description"].(string)
		if arg.Description == "" {
			arg.Description = arg.Type + " parameter"
		}
		switch enum := prop["enum"].(type) {
		case []string:
			arg.Enum = enum
		case []any:
			for _, v := range enum {
				arg.Enum = append(arg.Enum, fmt.Sprint(v))
			}
		}
		doc.Args = append(doc.Args, arg)
	}
	return doc
}

// generateToolMarkdown renders a single tool section.
func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder
	_ = docsTemplate.ExecuteTemplate(&sb, "tool", describeTool(tool))
	return sb.String()
}

var docsTemplate = template.Must(template.New("docs").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`# MCP Tools Reference

Every tool available when mcpmerge runs as an MCP server. Generated from the tool definitions by ` + "`mcpmerge generate-docs`" + `.

## Table of Contents

{{range .}}- [{{.Title}}](#{{.Anchor}})
{{end}}
## Configuration Arguments

Tools that take an MCP configuration accept it as JSON text, either a bare map of server name to entry or a document with an ` + "`mcpServers`" + ` key.

- **Shape preserved:** merged output keeps the shape and extra top-level keys of ` + "`existingConfig`" + `
- **Google accounts:** Google-backed servers (matched by name) read the account from ` + "`env.USER_GOOGLE_EMAIL`" + `
{{range .}}
## {{.Title}}
{{range .Tools}}
{{template "tool" .}}{{end}}{{end}}
{{- define "tool"}}### {{.Name}}
{{if .Description}}
{{.Description}}
{{end}}{{if .Args}}
**Arguments:**
{{range .Args}}- ` + "`{{.Name}}`" + ` ({{.Type}}, {{if .Required}}required{{else}}optional{{end}}): {{.Description}}{{if .Enum}} One of: {{join .Enum ", "}}.{{end}}
{{end}}{{end}}{{end}}`))
