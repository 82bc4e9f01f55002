package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tse-report-engine/internal/domain"
	"github.com/tse-report-engine/internal/service"
)

var amendCmd = &cobra.Command{
	Use:   "amend <report-id>",
	Short: "Create the next version of a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmend,
}

var copyFlags struct {
	verbatim bool
}

var copyCmd = &cobra.Command{
	Use:   "copy <source-id> <target-id>",
	Short: "Replace the content of a report with a copy of another",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopy,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <report-id>",
	Short: "Refresh a report status from the collection system",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefresh,
}

var validateCmd = &cobra.Command{
	Use:   "validate <report-id>",
	Short: "Check a report tree and flag its erroneous records",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	copyCmd.Flags().BoolVar(&copyFlags.verbatim, "verbatim", false, "copy every column instead of regenerating derived ones")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid report id %q", arg)
	}
	return id, nil
}

// withReport runs fn on the report named by arg while holding its lock.
func withReport(cmd *cobra.Command, arg string, fn func(ctx context.Context, a *app, report *domain.Report) (any, error)) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	release, err := a.locker.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("report %d: %w", id, err)
	}
	defer release()

	report, err := a.services.Reports.GetReport(ctx, id)
	if err != nil {
		return err
	}
	out, err := fn(ctx, a, report)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runAmend(cmd *cobra.Command, args []string) error {
	return withReport(cmd, args[0], func(ctx context.Context, a *app, report *domain.Report) (any, error) {
		amended, stats, err := a.services.Reports.Amend(ctx, report)
		if err != nil {
			return nil, err
		}
		return map[string]any{"report": amended, "cloned": stats}, nil
	})
}

func runCopy(cmd *cobra.Command, args []string) error {
	sourceID, err := parseID(args[0])
	if err != nil {
		return err
	}
	mode := service.CloneRegenerate
	if copyFlags.verbatim {
		mode = service.CloneVerbatim
	}

	return withReport(cmd, args[1], func(ctx context.Context, a *app, target *domain.Report) (any, error) {
		source, err := a.services.Reports.GetReport(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		stats, err := a.services.Reports.CopyReport(ctx, source, target, mode)
		if err != nil {
			return nil, err
		}
		return map[string]any{"report": target, "cloned": stats}, nil
	})
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return withReport(cmd, args[0], func(ctx context.Context, a *app, report *domain.Report) (any, error) {
		return a.services.Lifecycle.RefreshStatus(ctx, report)
	})
}

func runValidate(cmd *cobra.Command, args []string) error {
	return withReport(cmd, args[0], func(ctx context.Context, a *app, report *domain.Report) (any, error) {
		issues, err := a.services.Reports.UpdateChildrenErrors(ctx, report)
		if err != nil {
			return nil, err
		}
		return map[string]any{"valid": len(issues) == 0, "issues": issues}, nil
	})
}
