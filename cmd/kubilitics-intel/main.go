// Command kubilitics-intel runs the conversational intelligence-gathering
// service, or a single investigation in the terminal.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "kubilitics-intel"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Conversational intelligence-gathering service",
		Long: `kubilitics-intel interviews a user about a subject through a chain of
model-driven stages (query analysis, planning, questioning, answer analysis
and synthesis) and produces a structured intelligence report.

Without a configured model every stage falls back to deterministic rules.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before reading the environment")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&g), investigateCmd(&g))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}
