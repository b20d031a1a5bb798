package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type rootOptions struct {
	server  string
	timeout time.Duration
	json    bool
	out     io.Writer
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.server, o.timeout)
}

// print writes v as indented JSON when --json is set, otherwise calls human.
func (o *rootOptions) print(v any, human func(io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(o.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(o.out)
	return nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{out: os.Stdout}

	server := os.Getenv("CHANGEGUARD_URL")
	if server == "" {
		server = defaultServer
	}

	root := &cobra.Command{
		Use:           "changeguard-cli",
		Short:         "Inspect ChangeGuard evaluations and replay webhook deliveries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "ChangeGuard base URL (env CHANGEGUARD_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON")

	root.AddCommand(
		newStatusCmd(opts),
		newEvaluationsCmd(opts),
		newShowCmd(opts),
		newReplayCmd(opts),
		newWatchCmd(opts),
		newHealthCmd(opts),
	)
	return root
}
