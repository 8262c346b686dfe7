package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/goosewin/cappair/internal/backend"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available captioning backends",
	Args:  cobra.NoArgs,
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

func runBackends(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	names := backend.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No backends registered")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tDEFAULT MODEL\tCREDENTIAL\tREADY\tMODELS")
	fmt.Fprintln(writer, "----\t-------------\t----------\t-----\t------")

	for _, name := range names {
		desc, ok := backend.Get(name)
		if !ok {
			continue
		}
		credential := desc.CredentialEnv
		if credential == "" {
			credential = "-"
		}
		ready := "no"
		if _, set := desc.Credential(); set {
			ready = "yes"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", name, desc.DefaultModel, credential, ready, strings.Join(desc.Models, ", "))
	}

	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Usage: cappair run --backend <name> (default: %s)\n", backend.DefaultName())
	return nil
}
