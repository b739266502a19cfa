package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tokscraper/pkg/logger"
	"tokscraper/pkg/solvelog"
)

var recentLimit int

var captchaCmd = &cobra.Command{
	Use:   "captcha",
	Short: "Inspect the challenge solve log",
}

var captchaStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded solve attempts",
	Long: `Summarize the attempts recorded with --log-captcha: totals per outcome
followed by the most recent attempts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := solvelog.Open(cfg.Captcha.LogDB, logger.GetLogger())
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		outcomes, err := store.Outcomes(ctx)
		if err != nil {
			return err
		}
		recent, err := store.Recent(ctx, recentLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		names := make([]string, 0, len(outcomes))
		for name := range outcomes {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "OUTCOME\tCOUNT")
		for _, name := range names {
			fmt.Fprintf(w, "%s\t%d\n", name, outcomes[name])
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "TIME\tKIND\tATTEMPT\tOUTCOME\tOFFSET\tROTATION\tERROR")
		for _, rec := range recent {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.1f\t%.1f\t%s\n",
				rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Kind, rec.Attempt, rec.Outcome,
				rec.Offset, rec.Rotation, rec.Error)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(captchaCmd)
	captchaCmd.AddCommand(captchaStatsCmd)
	captchaStatsCmd.Flags().IntVarP(&recentLimit, "limit", "n", 10, "number of recent attempts to list")
}
