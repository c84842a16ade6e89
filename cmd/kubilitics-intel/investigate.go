package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kubilitics/kubilitics-intel/internal/orchestrator"
	"github.com/kubilitics/kubilitics-intel/internal/session"
	"github.com/kubilitics/kubilitics-intel/internal/stages"
)

func investigateCmd(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   `investigate "<query>"`,
		Short: "Run one investigation interactively and print the report",
		Long: `Starts an investigation for the query, prints each question set and reads
answers from standard input. Type "done" (or send EOF) to stop early. The
final report is printed as JSON or YAML.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q (use json or yaml)", output)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, g)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := interview(ctx, a.orch, strings.Join(args, " "), cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), report, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "json", "Report format: json or yaml")
	return cmd
}

// interview drives the question/answer loop. Questions and progress go to
// prompt; answers are read one line at a time from in.
func interview(ctx context.Context, o *orchestrator.Orchestrator, query string, in io.Reader, prompt io.Writer) (*stages.Report, error) {
	sess, err := o.Start(ctx, query)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(prompt, "Investigation %s started.\n", sess.ID)

	scanner := bufio.NewScanner(in)
	for sess.Status == session.StatusWaitingForInput {
		fmt.Fprintln(prompt)
		for i, q := range sess.Questions {
			fmt.Fprintf(prompt, "%d. %s\n", i+1, q)
		}
		fmt.Fprint(prompt, "> ")

		if !scanner.Scan() {
			break
		}
		answer := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(answer, "done") {
			break
		}
		if answer == "" {
			continue
		}
		if sess, err = o.Respond(ctx, sess.ID, answer); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read answer: %w", err)
	}

	fmt.Fprintln(prompt, "\nGenerating report...")
	return o.Report(ctx, sess.ID)
}

func writeReport(w io.Writer, r *stages.Report, format string) error {
	if format == "yaml" {
		// Round-trip through JSON so YAML keys match the API field names.
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
