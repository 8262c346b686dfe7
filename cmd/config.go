package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goosewin/cappair/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	RunE:  runConfigList,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configuration values",
	Args:  cobra.NoArgs,
	RunE:  runConfigList,
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Show which config files are loaded",
	Args:  cobra.NoArgs,
	RunE:  runConfigPaths,
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configPathsCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	key := strings.TrimSpace(args[0])
	if key == "" {
		return errors.New("config key is required")
	}

	value, ok := config.GetConfig(key)
	if !ok {
		return fmt.Errorf("config key not found: %s", key)
	}

	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := strings.TrimSpace(args[0])
	if key == "" {
		return errors.New("config key is required")
	}

	value := strings.TrimSpace(args[1])
	if value == "" {
		return errors.New("config value is required")
	}

	if err := config.SetConfig(key, value); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Updated config: %s\n", key)
	return nil
}

func runConfigList(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	items, err := config.ListConfig()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if isSecretKey(key) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=****\n", key)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", key, items[key])
	}

	return nil
}

func runConfigPaths(cmd *cobra.Command, args []string) error {
	if err := loadConfigForCwd(); err != nil {
		return err
	}

	paths := config.CurrentPaths()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "default: (built in)")
	fmt.Fprintf(out, "global:  %s\n", displayPath(paths.Global))
	fmt.Fprintf(out, "project: %s\n", displayPath(paths.Project))
	return nil
}

func displayPath(path string) string {
	if path == "" {
		return "(none)"
	}
	if _, err := os.Stat(path); err != nil {
		return path + " (missing)"
	}
	return path
}

// isSecretKey hides values that look like credentials in listings.
func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	return strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret")
}

func loadConfigForCwd() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	_, err = config.LoadConfig(cwd)
	return err
}
