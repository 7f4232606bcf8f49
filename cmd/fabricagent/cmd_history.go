package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/fabricagent/internal/extract"
	"github.com/user/fabricagent/internal/gateway"
	"github.com/user/fabricagent/internal/state"
	"github.com/user/fabricagent/internal/types"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyClearCmd)

	historyListCmd.Flags().Int("limit", 20, "number of records to show (0 for all)")
	historyListCmd.Flags().String("thread", "", "only show records for this thread, oldest first")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect past questions and answers",
}

func withHistory(fn func(ctx context.Context, h *state.HistoryStore) error) error {
	cfg := loadConfig()
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("history is disabled (history.enabled = false)")
	}
	defer h.Close()
	return fn(context.Background(), h)
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded asks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		thread, _ := cmd.Flags().GetString("thread")

		return withHistory(func(ctx context.Context, h *state.HistoryStore) error {
			var records []types.AskRecord
			var total int64
			var err error
			if thread != "" {
				records, err = h.ListByThread(ctx, types.ThreadName(thread))
				total = int64(len(records))
			} else {
				records, total, err = h.List(ctx, limit, 0)
			}
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}

			if len(records) == 0 {
				fmt.Println("No history recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tSOURCE\tTHREAD\tSTATUS\tQUESTION")
			for _, r := range records {
				status := r.RunStatus
				if !r.Success {
					status = "error"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					r.ID,
					r.CreatedAt.Local().Format(time.DateTime),
					r.Source,
					r.ThreadName,
					status,
					truncate(r.Question, 60),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if int64(len(records)) < total {
				fmt.Printf("\nShowing %d of %d records.\n", len(records), total)
			}
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded ask with its run analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return withHistory(func(ctx context.Context, h *state.HistoryStore) error {
			rec, err := h.Get(ctx, uint(id))
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "Question:       %s\n", rec.Question)
			fmt.Fprintf(os.Stdout, "Asked:          %s (%s, %dms)\n",
				rec.CreatedAt.Local().Format(time.DateTime), rec.Source, rec.DurationMs)
			fmt.Fprintf(os.Stdout, "Thread:         %s\n", rec.ThreadName)
			fmt.Fprintf(os.Stdout, "Run status:     %s\n", rec.RunStatus)
			if rec.ErrorMessage != "" {
				fmt.Fprintf(os.Stdout, "Error:          %s\n", rec.ErrorMessage)
				return nil
			}

			res := &gateway.Result{
				ThreadName: types.ThreadName(rec.ThreadName),
				RunStatus:  rec.RunStatus,
				Response:   rec.Response,
			}
			if rec.ReportJSON != "" {
				var rep extract.Report
				if err := json.Unmarshal([]byte(rec.ReportJSON), &rep); err == nil {
					res.Report = &rep
				}
			}
			writeAnalysis(os.Stdout, res)
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all recorded asks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(func(ctx context.Context, h *state.HistoryStore) error {
			if err := h.Clear(ctx); err != nil {
				return fmt.Errorf("clear history: %w", err)
			}
			fmt.Println("History cleared.")
			return nil
		})
	},
}
