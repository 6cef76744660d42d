package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/teemow/mcpmerge/internal/mcpconfig"
)

const stdinPath = "-"

func newMergeCmd() *cobra.Command {
	var (
		renames []string
		output  string
		inPlace bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "merge <existing> <incoming>",
		Short: "Merge an incoming server set into an existing MCP config",
		Long: `Merge the servers of <incoming> into <existing> and print the merged
document. Both files may be bare server maps or documents with an
"mcpServers" key; the output keeps the shape of <existing>.

A missing <existing> file starts from an empty "mcpServers" document.
Use "-" to read <incoming> from stdin.

Incoming servers can be renamed before merging:
  mcpmerge merge config.json new.json --rename gmail=gmail-work`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inPlace {
				if output != "" {
					return errors.New("--in-place and --output are mutually exclusive")
				}
				output = args[0]
			}
			renameMap, err := parseRenames(renames)
			if err != nil {
				return err
			}
			return runMerge(cmd, args[0], args[1], renameMap, output, quiet)
		},
	}

	cmd.Flags().StringArrayVarP(&renames, "rename", "r", nil, "Rename an incoming server before merging (old=new, repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVarP(&inPlace, "in-place", "i", false, "Write the result back to <existing>")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the merge report")

	return cmd
}

func runMerge(cmd *cobra.Command, existingPath, incomingPath string, renames mcpconfig.RenameMap, output string, quiet bool) error {
	existing, err := readServerSet(cmd.InOrStdin(), existingPath, true)
	if err != nil {
		return err
	}
	incoming, err := readServerSet(cmd.InOrStdin(), incomingPath, false)
	if err != nil {
		return err
	}

	merged, report, err := mcpconfig.Merge(existing, incoming, renames)
	if err != nil {
		return err
	}
	data, err := mcpconfig.Encode(merged)
	if err != nil {
		return err
	}

	if output != "" {
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	} else if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return err
	}

	if !quiet {
		renderMergeReport(cmd.ErrOrStderr(), merged, report)
	}
	return nil
}

// readServerSet decodes path, or stdin for "-". When allowMissing is set a
// missing file yields an empty wrapped set.
func readServerSet(stdin io.Reader, path string, allowMissing bool) (*mcpconfig.ServerConfigSet, error) {
	var (
		data []byte
		err  error
	)
	if path == stdinPath {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return mcpconfig.NewServerConfigSet(mcpconfig.ShapeWrapped), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	set, err := mcpconfig.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// parseRenames turns old=new pairs into a rename map. An empty new name keeps
// the server's own name.
func parseRenames(pairs []string) (mcpconfig.RenameMap, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	renames := make(mcpconfig.RenameMap, len(pairs))
	for _, pair := range pairs {
		from, to, ok := strings.Cut(pair, "=")
		from = strings.TrimSpace(from)
		if !ok || from == "" {
			return nil, fmt.Errorf("invalid rename %q: expected old=new", pair)
		}
		renames[from] = strings.TrimSpace(to)
	}
	return renames, nil
}

func renderMergeReport(w io.Writer, merged *mcpconfig.ServerConfigSet, report *mcpconfig.MergeReport) {
	status := make(map[string]string, report.Total)
	for _, name := range report.Added {
		status[name] = "added"
	}
	for _, name := range report.Replaced {
		status[name] = "replaced"
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"SERVER", "COMMAND", "STATUS"})
	for _, name := range merged.Names() {
		entry, _ := merged.Get(name)
		st, ok := status[name]
		if !ok {
			st = "kept"
		}
		t.AppendRow(table.Row{name, entry.Command, colorStatus(st)})
	}
	t.AppendFooter(table.Row{"", "TOTAL", report.Total})
	t.Render()
}

func colorStatus(status string) string {
	switch status {
	case "added", "authenticated":
		return text.FgGreen.Sprint(status)
	case "replaced", "needs email":
		return text.FgYellow.Sprint(status)
	case "error", "not authenticated":
		return text.FgRed.Sprint(status)
	default:
		return status
	}
}
