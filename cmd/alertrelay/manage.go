package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"alertrelay/internal/manager"

	"github.com/spf13/cobra"
)

func newManageCmd(g *globals) *cobra.Command {
	var (
		eventPath string
		label     string
		dryRun    bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "manage",
		Short: "Validate one event, queue its alerts and deliver them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readEvent(cmd.InOrStdin(), eventPath)
			if err != nil {
				return withCode(exitValidation, err)
			}
			a, err := newApp(g.cfg, g.log, dryRun, nil)
			if err != nil {
				return withCode(exitValidation, err)
			}
			defer a.Close()

			res, err := a.manager.Manage(cmd.Context(), raw, label)
			out := cmd.OutOrStdout()
			if res != nil {
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					_ = enc.Encode(res)
				} else {
					printResult(out, res)
				}
			}
			return manageExit(err)
		},
	}
	cmd.Flags().StringVar(&eventPath, "event", "-", "event JSON file, - for stdin")
	cmd.Flags().StringVar(&label, "context", "cli", "context label recorded in the audit log")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render messages without sending")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func readEvent(stdin io.Reader, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return b, nil
}

// manageExit maps a Manage error to the process exit code. Anything that is
// not a validation failure, partial delivery included, exits 2.
func manageExit(err error) error {
	switch {
	case err == nil:
		return nil
	case manager.IsValidation(err):
		return withCode(exitValidation, err)
	default:
		return withCode(exitDelivery, err)
	}
}

func printResult(w io.Writer, res *manager.Result) {
	for _, p := range res.Processors {
		switch {
		case p.Skipped:
			fmt.Fprintf(w, "processor %s: skipped\n", p.Domain)
		case p.Error != "":
			fmt.Fprintf(w, "processor %s: error (%s)\n", p.Domain, p.Error)
		default:
			fmt.Fprintf(w, "processor %s: %d queued\n", p.Domain, p.Enqueued)
		}
	}
	for _, e := range res.Entries {
		if e.Debounced {
			fmt.Fprintf(w, "%s %s [%s] debounced (%s left)\n", e.Entry.ID, e.Entry.Type, e.Entry.Priority, e.Remaining)
			continue
		}
		for _, o := range e.Outcomes {
			line := fmt.Sprintf("%s %s [%s] %s: %s", e.Entry.ID, e.Entry.Type, e.Entry.Priority, o.Channel, o.Status)
			if o.Error != "" {
				line += " (" + o.Error + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
	ok, bad := res.ChannelSummary()
	fmt.Fprintf(w, "succeeded: %s\nfailed: %s\n", joinOrNone(ok), joinOrNone(bad))
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ",")
}
