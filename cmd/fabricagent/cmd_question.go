package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/fabricagent/internal/scheduler"
	"github.com/user/fabricagent/internal/state"
)

func init() {
	rootCmd.AddCommand(questionCmd)
	questionCmd.AddCommand(questionAddCmd, questionListCmd, questionRemoveCmd,
		questionEnableCmd, questionDisableCmd, questionRunCmd)

	questionAddCmd.Flags().String("name", "", "question name (required)")
	questionAddCmd.Flags().String("question", "", "question text (required)")
	questionAddCmd.Flags().String("schedule", "", "cron schedule expression")
	questionAddCmd.Flags().String("thread", "", "thread name to ask on")
	questionAddCmd.Flags().String("deliver-to", "", "delivery target (https://..., file:/path.jsonl)")
	_ = questionAddCmd.MarkFlagRequired("name")
	_ = questionAddCmd.MarkFlagRequired("question")

	questionRunCmd.Flags().Bool("details", false, "print the run analysis")
	questionRunCmd.Flags().Bool("json", false, "print the full result as JSON")
}

var questionCmd = &cobra.Command{
	Use:   "question",
	Short: "Manage saved questions",
}

var questionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Save a new question",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		question, _ := cmd.Flags().GetString("question")
		schedule, _ := cmd.Flags().GetString("schedule")
		thread, _ := cmd.Flags().GetString("thread")
		deliverTo, _ := cmd.Flags().GetString("deliver-to")

		if schedule != "" {
			if err := scheduler.ValidateSchedule(schedule); err != nil {
				return err
			}
		}

		store := questionStore(loadConfig())
		q := &state.SavedQuestion{
			Name:       name,
			Question:   question,
			Schedule:   schedule,
			ThreadName: thread,
			DeliverTo:  deliverTo,
			Enabled:    true,
		}
		if err := store.Add(q); err != nil {
			return fmt.Errorf("add question: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Question %q saved.\n", name)
		if schedule != "" {
			fmt.Fprintln(os.Stdout, "Run 'fabricagent reload' to pick it up in a running server.")
		}
		return nil
	},
}

var questionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved questions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		questions, err := questionStore(loadConfig()).List()
		if err != nil {
			return fmt.Errorf("list questions: %w", err)
		}

		if len(questions) == 0 {
			fmt.Println("No saved questions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tTHREAD\tDELIVER TO\tQUESTION")
		for _, q := range questions {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\t%s\n",
				q.Name,
				q.Schedule,
				q.Enabled,
				q.ThreadName,
				q.DeliverTo,
				truncate(q.Question, 60),
			)
		}
		return w.Flush()
	},
}

var questionRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a saved question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := questionStore(loadConfig()).Remove(args[0]); err != nil {
			return fmt.Errorf("remove question: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Question %q removed.\n", args[0])
		return nil
	},
}

var questionEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a saved question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := questionStore(loadConfig()).SetEnabled(args[0], true); err != nil {
			return fmt.Errorf("enable question: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Question %q enabled.\n", args[0])
		return nil
	},
}

var questionDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a saved question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := questionStore(loadConfig()).SetEnabled(args[0], false); err != nil {
			return fmt.Errorf("disable question: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Question %q disabled.\n", args[0])
		return nil
	},
}

var questionRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Ask a saved question now and deliver the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		details, _ := cmd.Flags().GetBool("details")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig()
		setupLogging(cfg)

		q, err := questionStore(cfg).Get(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSignIn(); err != nil {
			return err
		}

		res, err := a.runner.Run(ctx, q, "", "cli")
		if err != nil {
			return err
		}
		switch {
		case asJSON:
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		case details:
			writeDetails(os.Stdout, res)
		default:
			fmt.Fprintln(os.Stdout, res.Response)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
