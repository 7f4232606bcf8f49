package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/fabricagent/internal/auth"
	"github.com/user/fabricagent/internal/config"
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd, authStatusCmd, authLogoutCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the Microsoft Entra sign-in",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with a device code (or fetch a service principal token)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		if cfg.TenantID == "" || cfg.TenantID == config.PlaceholderTenantID {
			return fmt.Errorf("tenant_id is not set: run 'fabricagent config set tenant_id <id>'")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		session := newSession(cfg)
		err := session.Login(ctx, func(code *auth.DeviceCode) {
			fmt.Fprintln(os.Stdout, code.Message())
			fmt.Fprintf(os.Stdout, "The code expires at %s.\n", code.ExpiresAt.Local().Format(time.Kitchen))
		})
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Fprintln(os.Stdout, "Signed in.")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a usable token is cached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st := newSession(cfg).Status()

		fmt.Fprintf(os.Stdout, "Mode:          %s\n", st.Mode)
		fmt.Fprintf(os.Stdout, "Authenticated: %v\n", st.Authenticated)
		if !st.ExpiresAt.IsZero() {
			fmt.Fprintf(os.Stdout, "Expires:       %s\n", st.ExpiresAt.Local().Format(time.RFC3339))
		}
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the cached token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := newSession(cfg).Logout(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Fprintln(os.Stdout, "Signed out.")
		return nil
	},
}
