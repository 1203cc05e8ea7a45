// Package cli implements tutorguardctl, the operator command line for
// tutorguard. The commands run the same classification, tiering and
// catalog code as the service, so operators can check how an error would
// be handled or whether a catalog file is valid before deploying it.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Build information, set by main.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// NewRootCommand creates the tutorguardctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tutorguardctl",
		Short:         "Operate the tutorguard AI resilience layer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "print results as JSON")

	root.AddCommand(
		newClassifyCommand(),
		newTierCommand(),
		newCatalogCommand(),
		newTokenCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tutorguardctl %s (built %s)\n", Version, BuildTime)
		},
	}
}

// field is one labelled line of plain output.
type field struct {
	label string
	value interface{}
}

// render prints v as JSON when --json is set and fields otherwise.
func render(cmd *cobra.Command, v interface{}, fields []field) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return printFields(out, fields)
}

func printFields(w io.Writer, fields []field) error {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.label))
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%-*s  %v\n", width+1, f.label+":", f.value); err != nil {
			return err
		}
	}
	return nil
}
