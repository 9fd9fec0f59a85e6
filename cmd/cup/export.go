package main

import (
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/schaermu/cup/internal/selector"
	"github.com/schaermu/cup/internal/tracker"
	"github.com/spf13/cobra"
)

var interactive bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Manage the files of a local dotfile collection",
}

var exportCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an empty dotfile collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportCreate,
}

var exportAddCmd = &cobra.Command{
	Use:   "add NAME PATH...",
	Short: "Track files in a collection",
	Long: `Add tracks the given files and copies them into the collection's archive.
Paths may be absolute, relative to the working directory or start with ~/.
A directory adds every file below it.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runExportAdd,
}

var exportRemoveCmd = &cobra.Command{
	Use:   "remove NAME [PATH...]",
	Short: "Stop tracking files in a collection",
	Long: `Remove untracks the given files and deletes their archive copies. The files
themselves are left untouched. A directory untracks every tracked file below it.

With --interactive the files are picked from a list instead.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if interactive {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.MinimumNArgs(2)(cmd, args)
	},
	RunE: runExportRemove,
}

var exportStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Compare a collection's archive with the tracked files",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportStatus,
}

func init() {
	exportCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	exportRemoveCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "select the files to remove from a list")

	exportCmd.AddCommand(exportCreateCmd)
	exportCmd.AddCommand(exportAddCmd)
	exportCmd.AddCommand(exportRemoveCmd)
	exportCmd.AddCommand(exportStatusCmd)
}

func runExportCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	t, err := newTracker(setupLogger())
	if err != nil {
		return err
	}
	return t.Create(ctx, args[0])
}

func runExportAdd(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	t, err := newTracker(setupLogger())
	if err != nil {
		return err
	}
	return reportSaveError(t.Add(ctx, args[0], args[1:]))
}

func runExportRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	t, err := newTracker(setupLogger())
	if err != nil {
		return err
	}

	if interactive {
		return reportSaveError(t.RemoveInteractive(ctx, args[0], selector.Select))
	}
	return reportSaveError(t.Remove(ctx, args[0], args[1:]))
}

func runExportStatus(cmd *cobra.Command, args []string) error {
	t, err := newTracker(setupLogger())
	if err != nil {
		return err
	}

	report, err := t.Status(args[0])
	if err != nil {
		return err
	}
	printReport(stdout, report)
	return nil
}

func printReport(w io.Writer, report *tracker.Report) {
	fmt.Fprintf(w, "%s (%s)\n", report.Name, report.Path)

	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("FILE", "STATE", "SIZE")
	for _, entry := range report.Entries {
		table.AddRow(entry.Address.DisplayString(), string(entry.State), units.HumanSize(float64(entry.Size)))
	}
	for _, orphan := range report.Orphans {
		table.AddRow(orphan.DisplayString(), "untracked copy", "-")
	}
	fmt.Fprintln(w, table)

	warn := color.New(color.FgYellow)
	for _, p := range report.Malformed {
		_, _ = warn.Fprintf(w, "warning: %s is outside the archive layout\n", p)
	}

	if report.InSync() {
		fmt.Fprintln(w, "archive is up to date")
	} else {
		fmt.Fprintf(w, "next save: %d to copy, %d to refresh, %d to remove\n",
			len(report.Plan.Copy), len(report.Plan.Refresh), len(report.Plan.Delete))
	}
}

func printSummaries(w io.Writer, summaries []tracker.Summary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no collections")
		return
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.AddRow("NAME", "FILES", "PATH")
	for _, s := range summaries {
		if s.Err != nil {
			table.AddRow(s.Name, "-", color.RedString("error: %v", s.Err))
			continue
		}
		table.AddRow(s.Name, s.Files, s.Path)
	}
	fmt.Fprintln(w, table)
}
