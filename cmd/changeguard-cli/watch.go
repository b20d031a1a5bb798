package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/Strob0t/ChangeGuard/internal/adapter/ws"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var repo string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream stage progress and completed evaluations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := wsURL(opts.server, repo)
			if err != nil {
				return err
			}
			return watch(cmd.Context(), u, opts.json, opts.out)
		},
	}
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "only events of owner/repo")
	return cmd
}

// wsURL maps the server base URL to its /ws endpoint.
func wsURL(server, repo string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("server url must be http or https, got %q", server)
	}
	u.Path += "/ws"
	if repo != "" {
		u.RawQuery = url.Values{"repo": {repo}}.Encode()
	}
	return u.String(), nil
}

func watch(ctx context.Context, u string, raw bool, out io.Writer) error {
	c, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer func() { _ = c.CloseNow() }()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				fmt.Fprintln(out, "server closed the stream")
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		fmt.Fprintln(out, formatMessage(&msg))
	}
}

func formatMessage(msg *ws.Message) string {
	switch msg.Type {
	case ws.EventEvaluationStage:
		var e ws.EvaluationStageEvent
		if err := json.Unmarshal(msg.Payload, &e); err == nil {
			line := fmt.Sprintf("%s#%d  %-16s %-10s attempt=%d", e.RepoFullName, e.PRNumber, e.Stage, e.Status, e.Attempt)
			if e.ReasonCode != "" {
				line += " reason=" + e.ReasonCode
			}
			return line
		}
	case ws.EventEvaluationCompleted:
		var e ws.EvaluationCompletedEvent
		if err := json.Unmarshal(msg.Payload, &e); err == nil {
			reasons := "-"
			if len(e.ReasonCodes) > 0 {
				reasons = strings.Join(e.ReasonCodes, ",")
			}
			return fmt.Sprintf("%s#%d  => %s %s risk=%s", e.RepoFullName, e.PRNumber, e.Status, reasons, orDash(e.SystemRisk))
		}
	}
	return msg.Type + " " + string(msg.Payload)
}
