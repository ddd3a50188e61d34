package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-queue-lite/internal/queue"
)

func newSendCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Run one dispatch pass over pending messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.dispatcher.SendEmails(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newClearCmd(configPath *string) *cobra.Command {
	var (
		days   int
		status string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete sent and failed messages past their retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if status != "" {
				st, err := queue.ParseStatus(status)
				if err != nil {
					return err
				}
				n, err := a.cleaner.Clear(ctx, days, st)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int64{st.String(): n})
			}

			sent, err := a.cleaner.ClearSent(ctx)
			if err != nil {
				return err
			}
			failed, err := a.cleaner.ClearErrors(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{"sent": sent, "error": failed})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only clear this status (sent or error) using --days")
	cmd.Flags().IntVar(&days, "days", 0, "retention in days for --status")
	return cmd
}

func newListCmd(configPath *string) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := listOptions(status, limit, offset)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := a.store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, sent, error)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of messages to skip")
	return cmd
}

func newResendCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "resend ID...",
		Short: "Reset messages to pending so the next pass sends them again",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := queue.Resend(cmd.Context(), a.store, ids...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"resent": n})
		},
	}
}

func newDeleteCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete messages from the queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := queue.DeleteAll(cmd.Context(), a.store, ids...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
		},
	}
}

func newExportCmd(configPath *string) *cobra.Command {
	var (
		status string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write queued messages to an mbox file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := listOptions(status, 0, 0)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			n, err := queue.ExportMbox(cmd.Context(), a.store, w, opts)
			if err != nil {
				return err
			}
			a.logger.Info("exported messages", "count", n, "output", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only export this status")
	cmd.Flags().StringVarP(&output, "output", "o", "queue.mbox", "output file, - for stdout")
	return cmd
}

func listOptions(status string, limit, offset int) (queue.ListOptions, error) {
	opts := queue.ListOptions{Limit: limit, Offset: offset}
	if status != "" {
		st, err := queue.ParseStatus(status)
		if err != nil {
			return opts, err
		}
		opts.Status = &st
	}
	return opts, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printItems(w io.Writer, items []*queue.Item) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tSENT\tSUBJECT")
	for _, item := range items {
		sent := "-"
		if item.SentAt != nil {
			sent = item.SentAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			item.ID, item.Status, item.CreatedAt.Format(time.RFC3339), sent, item.Subject)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
