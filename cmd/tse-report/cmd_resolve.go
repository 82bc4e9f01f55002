package main

import (
	"github.com/spf13/cobra"
)

var resolveFlags struct {
	create bool
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <case-id>",
	Short: "Show the default result rule of a case",
	Long:  "Resolve prints the default result rule matching a case report.\nWith --create the default analytical results are added to the case.",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveFlags.create, "create", false, "create the default analytical results")
}

func runResolve(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !resolveFlags.create {
		rule, err := a.services.Defaults.ResolveForRecord(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rule)
	}

	results, err := a.services.Defaults.CreateForCase(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{"results": results, "created": len(results)})
}
