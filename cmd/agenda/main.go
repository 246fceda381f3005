// Command agenda turns syllabi, emails and chat conversations into proposed
// calendar events and tasks, and serves them for review over HTTP or MCP.
//
// Configuration comes from an optional YAML file (--config or AGENDA_CONFIG)
// overlaid by AGENDA_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scrypster/agenda/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	owner      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "agenda",
		Short:         "Extract calendar events and tasks from documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.owner, "owner", os.Getenv("AGENDA_OWNER"), "owner id to act for (env AGENDA_OWNER)")

	root.AddCommand(
		newSubmitCmd(opts),
		newProposalsCmd(opts),
		newStatusCmd(opts, "confirm", "Confirm a proposed event or task", "confirmed"),
		newStatusCmd(opts, "dismiss", "Dismiss a proposed event or task", "dismissed"),
		newExportCmd(opts),
		newRunsCmd(opts),
		newBackupCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

// load reads the configuration and wires the app.
func (o *rootOptions) load() (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.LoadConfig(o.configPath)
}

// requireOwner returns the owner or a usage error.
func (o *rootOptions) requireOwner() (string, error) {
	if o.owner == "" {
		return "", fmt.Errorf("--owner (or AGENDA_OWNER) is required")
	}
	return o.owner, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agenda:", err)
		os.Exit(1)
	}
}
