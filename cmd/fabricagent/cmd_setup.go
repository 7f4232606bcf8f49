package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/user/fabricagent/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("fabricagent setup")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		// 1. Entra tenant
		cfg.TenantID = prompt(scanner, "Tenant ID", cfg.TenantID)

		// 2. Published data agent URL
		cfg.Agent.URL = prompt(scanner, "Data agent URL", cfg.Agent.URL)

		// 3. App registration used for sign-in
		cfg.Auth.ClientID = prompt(scanner, "Client ID", cfg.Auth.ClientID)

		// 4. Service principal secret (optional)
		cfg.Auth.ClientSecret = prompt(scanner, "Client secret (optional, enables service principal sign-in)", cfg.Auth.ClientSecret)

		// 5. Run timeout
		timeoutStr := prompt(scanner, "Run timeout in seconds", strconv.Itoa(cfg.Agent.RunTimeoutSeconds))
		if n, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.Agent.RunTimeoutSeconds = n
		}

		// 6. HTTP listen address
		cfg.HTTP.Listen = prompt(scanner, "HTTP listen address", cfg.HTTP.Listen)

		if err := cfg.Validate(); err != nil {
			fmt.Println()
			fmt.Println("Warning:", err)
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
