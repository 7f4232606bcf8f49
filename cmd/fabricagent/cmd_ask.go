package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/user/fabricagent/internal/types"
)

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().String("thread", "", "thread name; questions on the same thread share context")
	askCmd.Flags().Bool("details", false, "print the run analysis with the SQL query and data preview")
	askCmd.Flags().Bool("json", false, "print the full result as JSON")
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the data agent a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thread, _ := cmd.Flags().GetString("thread")
		details, _ := cmd.Flags().GetBool("details")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg := loadConfig()
		setupLogging(cfg)

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

		res, err := a.gw.Ask(ctx, &types.InboundQuestion{
			Source:     "cli",
			ThreadName: types.ThreadName(thread),
			Question:   strings.Join(args, " "),
		})
		if err != nil {
			return fmt.Errorf("ask: %w", err)
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
