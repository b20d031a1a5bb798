package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Strob0t/ChangeGuard/internal/domain/evaluation"
	"github.com/Strob0t/ChangeGuard/internal/domain/projection"
	"github.com/Strob0t/ChangeGuard/internal/service"
)

func parsePullArgs(args []string) (string, int, error) {
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("pull request number must be a positive integer, got %q", args[1])
	}
	return args[0], n, nil
}

func joinReasons(codes []evaluation.ReasonCode) string {
	if len(codes) == 0 {
		return "-"
	}
	s := make([]string, len(codes))
	for i, c := range codes {
		s[i] = string(c)
	}
	return strings.Join(s, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "status <owner/repo> <number>",
		Short:   "Show the latest completed evaluation of a pull request",
		Example: "  changeguard-cli status acme/api 42",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, n, err := parsePullArgs(args)
			if err != nil {
				return err
			}
			var st projection.RunState
			if err := opts.client().status(cmd.Context(), repo, n, &st); err != nil {
				return err
			}
			return opts.print(st, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "STATUS\t%s\n", st.Status)
				fmt.Fprintf(tw, "REASONS\t%s\n", joinReasons(st.ReasonCodes))
				fmt.Fprintf(tw, "RISK\t%s\n", orDash(string(st.SystemRisk)))
				fmt.Fprintf(tw, "KEY\t%s\n", st.LatestEvaluationKey)
				fmt.Fprintf(tw, "UPDATED\t%s\n", st.UpdatedAt.Format("2006-01-02 15:04:05Z07:00"))
				_ = tw.Flush()
			})
		},
	}
}

func newEvaluationsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "evaluations <owner/repo> <number>",
		Short: "List evaluation runs of a pull request, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, n, err := parsePullArgs(args)
			if err != nil {
				return err
			}
			var runs []evaluation.Run
			if err := opts.client().evaluations(cmd.Context(), repo, n, limit, &runs); err != nil {
				return err
			}
			return opts.print(runs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tATTEMPT\tSTATUS\tREASONS\tKEY")
				for i := range runs {
					r := &runs[i]
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
						r.StartedAt.Format("2006-01-02 15:04:05"), r.Attempt, r.Status, joinReasons(r.ReasonCodes), r.EvaluationKey)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs (1-100)")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <evaluation-key>",
		Short: "Show one evaluation with its snapshot and stage trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d service.EvaluationDetail
			if err := opts.client().evaluation(cmd.Context(), args[0], &d); err != nil {
				return err
			}
			return opts.print(d, func(w io.Writer) { printDetail(w, &d) })
		},
	}
}

func printDetail(w io.Writer, d *service.EvaluationDetail) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if r := d.Run; r != nil {
		fmt.Fprintf(tw, "KEY\t%s\n", r.EvaluationKey)
		fmt.Fprintf(tw, "ATTEMPT\t%d\n", r.Attempt)
		fmt.Fprintf(tw, "STATUS\t%s\n", r.Status)
		if r.ComputedStatus != "" {
			fmt.Fprintf(tw, "COMPUTED\t%s\n", r.ComputedStatus)
		}
		fmt.Fprintf(tw, "REASONS\t%s\n", joinReasons(r.ReasonCodes))
		fmt.Fprintf(tw, "RISK\tpolicy=%s llm=%s system=%s user=%s\n",
			orDash(string(r.PolicyRisk)), orDash(string(r.LLMRisk)), orDash(string(r.SystemRisk)), orDash(string(r.UserRisk)))
		if r.TicketKey != "" {
			fmt.Fprintf(tw, "TICKET\t%s\n", r.TicketKey)
		}
		if r.ErrorDetail != "" {
			fmt.Fprintf(tw, "ERROR\t%s\n", r.ErrorDetail)
		}
	}
	if s := d.Snapshot; s != nil {
		fmt.Fprintf(tw, "TITLE\t%s\n", s.Title)
		fmt.Fprintf(tw, "FILES\t%d\n", len(s.ChangedFiles))
	}
	_ = tw.Flush()

	if len(d.Events) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tSTAGE\tREASON")
	for _, e := range d.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("15:04:05.000"), e.Type, orDash(e.Stage), orDash(e.ReasonCode))
	}
	_ = tw.Flush()
}

type healthReport struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	Queue       string `json:"queue"`
	IngressMode string `json:"ingress_mode"`
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h healthReport
			code, err := opts.client().health(cmd.Context(), &h)
			if err != nil {
				return err
			}
			if err := opts.print(h, func(w io.Writer) {
				fmt.Fprintf(w, "%s (store=%s queue=%s ingress=%s)\n", h.Status, h.Store, h.Queue, h.IngressMode)
			}); err != nil {
				return err
			}
			if code != http.StatusOK {
				return fmt.Errorf("server unhealthy (%d)", code)
			}
			return nil
		},
	}
}
