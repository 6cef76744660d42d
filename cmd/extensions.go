package cmd

import (
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/teemow/mcpmerge/internal/extension"
	"github.com/teemow/mcpmerge/internal/mcpconfig"
	"github.com/teemow/mcpmerge/internal/server"
)

func newExtensionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "extensions",
		Aliases: []string{"ext"},
		Short:   "List installed extensions or convert them to server entries",
	}
	cmd.AddCommand(newExtensionsListCmd())
	cmd.AddCommand(newExtensionsConvertCmd())
	return cmd
}

func newExtensionsListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed extensions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, formatTable, formatJSON, formatYAML); err != nil {
				return err
			}
			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				manifests, err := sc.ListExtensions(cmd.Context())
				if err != nil {
					return err
				}
				if format != formatTable {
					return writeStructured(cmd.OutOrStdout(), format, manifests)
				}
				renderExtensions(cmd.OutOrStdout(), manifests)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newExtensionsConvertCmd() *cobra.Command {
	var (
		ids              []string
		shareCredentials bool
		format           string
		wrap             bool
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert installed extensions to MCP server entries",
		Long: `Convert installed extensions to MCP server entries and print them as a
server map. Without --id every installed extension is converted.

With --share-credentials the entries point GOOGLE_CREDENTIALS_DIR and
MCP_GOOGLE_CREDENTIALS_DIR at the shared credential store. Extensions that
fail to convert are reported on stderr and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format, formatJSON, formatYAML); err != nil {
				return err
			}
			var selected []string
			for _, id := range ids {
				selected = append(selected, parseCommaSeparatedList(id)...)
			}

			return withServerContext(cmd.Context(), func(sc *server.ServerContext) error {
				share := sc.ShareCredentials()
				if cmd.Flags().Changed("share-credentials") {
					share = shareCredentials
				}
				result, err := sc.ConvertExtensions(cmd.Context(), selected, share)
				if err != nil {
					return err
				}

				servers := result.Servers
				if wrap {
					servers = wrapServers(servers)
				}
				if err := writeServers(cmd.OutOrStdout(), format, servers); err != nil {
					return err
				}
				renderConversionErrors(cmd.ErrOrStderr(), result.Errors)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&ids, "id", nil, "Extension id to convert (repeatable or comma-separated)")
	cmd.Flags().BoolVar(&shareCredentials, "share-credentials", false, "Point entries at the shared credentials directory")
	cmd.Flags().StringVar(&format, "format", formatJSON, "Output format: json or yaml")
	cmd.Flags().BoolVar(&wrap, "wrap", false, `Emit an "mcpServers" document instead of a bare map`)
	return cmd
}

func wrapServers(bare *mcpconfig.ServerConfigSet) *mcpconfig.ServerConfigSet {
	wrapped := mcpconfig.NewServerConfigSet(mcpconfig.ShapeWrapped)
	for _, name := range bare.Names() {
		entry, _ := bare.Get(name)
		wrapped.Set(name, entry)
	}
	return wrapped
}

func writeServers(w io.Writer, format string, set *mcpconfig.ServerConfigSet) error {
	data, err := mcpconfig.Encode(set)
	if err != nil {
		return err
	}
	if format == formatYAML {
		if data, err = jsonToYAML(data); err != nil {
			return err
		}
	}
	_, err = w.Write(data)
	return err
}

func renderExtensions(w io.Writer, manifests []*extension.Manifest) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "TITLE", "VERSION", "SERVER", "CONVERTIBLE"})
	for _, m := range manifests {
		convertible := text.FgGreen.Sprint("yes")
		if m.Server == nil || m.Server.MCPConfig == nil || m.Server.MCPConfig.Command == "" {
			convertible = text.FgRed.Sprint("no")
		}
		t.AppendRow(table.Row{m.ID, m.Title(), m.Version, m.ServerName(), convertible})
	}
	t.AppendFooter(table.Row{"", "TOTAL", len(manifests)})
	t.Render()
}

func renderConversionErrors(w io.Writer, errs map[string]string) {
	if len(errs) == 0 {
		return
	}
	ids := make([]string, 0, len(errs))
	for id := range errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"EXTENSION", "ERROR"})
	for _, id := range ids {
		t.AppendRow(table.Row{id, text.FgRed.Sprint(errs[id])})
	}
	t.Render()
}
