package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/ChangeGuard/internal/middleware"
	"github.com/Strob0t/ChangeGuard/internal/secrets"
)

type replayOptions struct {
	event    string
	delivery string
	secret   string
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	ro := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay <payload.json|->",
		Short: "Sign and re-deliver a recorded GitHub webhook payload",
		Long: `Replay reads a webhook payload, signs it with the webhook secret and posts it
to /webhooks/github. The secret is taken from --secret, then the
GITHUB_WEBHOOK_SECRET environment variable, then an interactive prompt.`,
		Example: "  changeguard-cli replay testdata/pull_request.json\n  gh api ... | changeguard-cli replay -",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			secret, err := resolveSecret(ro.secret, args[0] != "-")
			if err != nil {
				return err
			}
			delivery := ro.delivery
			if delivery == "" {
				delivery = uuid.NewString()
			}

			var resp map[string]any
			code, err := opts.client().deliver(cmd.Context(), ro.event, delivery, middleware.Sign(payload, secret), payload, &resp)
			if err != nil {
				return err
			}
			return opts.print(resp, func(w io.Writer) {
				switch code {
				case http.StatusOK:
					fmt.Fprintf(w, "%d %v %v\n", code, resp["status"], resp["reason_codes"])
					if key, ok := resp["evaluation_key"]; ok {
						fmt.Fprintf(w, "key: %v (duplicate=%v)\n", key, resp["duplicate"])
					}
				default:
					fmt.Fprintf(w, "%d %v\n", code, resp["status"])
				}
			})
		},
	}
	cmd.Flags().StringVarP(&ro.event, "event", "e", "pull_request", "X-GitHub-Event header")
	cmd.Flags().StringVar(&ro.delivery, "delivery", "", "X-GitHub-Delivery header (default: random UUID)")
	cmd.Flags().StringVar(&ro.secret, "secret", "", "webhook secret")
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied payload path
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

// resolveSecret returns the flag value, the environment value or a prompted
// one. Prompting requires a terminal on stdin and a payload not read from it.
func resolveSecret(flag string, mayPrompt bool) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(secrets.WebhookSecret); env != "" {
		return env, nil
	}
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	if !mayPrompt || !term.IsTerminal(fd) {
		return "", errors.New("webhook secret required: use --secret or " + secrets.WebhookSecret)
	}
	fmt.Fprint(os.Stderr, "Webhook secret: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	if len(b) == 0 {
		return "", errors.New("empty webhook secret")
	}
	return string(b), nil
}
