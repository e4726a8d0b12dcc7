package main

import (
	"fmt"
	"io"
	"time"

	"github.com/flemzord/appcraft/internal/cron"
	"github.com/spf13/cobra"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect schedule expressions",
	}

	next := &cobra.Command{
		Use:   "next <expression>",
		Short: "Validate an expression and print its upcoming runs",
		Example: `  appcraft cron next "*/30 9-17 * * 1-5"
  appcraft cron next "0 8 * * *" --count 3 --utc`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			utc, _ := cmd.Flags().GetBool("utc")
			now := time.Now()
			if utc {
				now = now.UTC()
			}
			return printNextRuns(cmd.OutOrStdout(), args[0], count, now)
		},
	}
	next.Flags().IntP("count", "n", 5, "Number of runs to print (1-50)")
	next.Flags().Bool("utc", false, "Print times in UTC")
	cmd.AddCommand(next)
	return cmd
}

func printNextRuns(w io.Writer, expr string, count int, now time.Time) error {
	if count < 1 || count > 50 {
		return fmt.Errorf("count must be between 1 and 50, got %d", count)
	}
	e, err := cron.Validate(expr)
	if err != nil {
		return err
	}
	runs := e.NextRuns(now, count)
	if len(runs) == 0 {
		fmt.Fprintf(w, "%s: no run within the next year\n", e)
		return nil
	}
	fmt.Fprintf(w, "%s\n", e)
	for _, t := range runs {
		fmt.Fprintf(w, "  %s\n", t.In(now.Location()).Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}
