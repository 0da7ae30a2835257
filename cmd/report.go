package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/venturescope/enrich-cli/internal/report"
)

var (
	reportRunID  string
	reportFormat string
	reportLimit  int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Answer analytical queries over a flushed run snapshot",
	Long: `Read-only reports over the enriched table: cities by company count,
homepage domain frequencies, funding extremes, funding totals by founding
year, and URL verification outcomes.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit := reportLimit
		if limit <= 0 {
			limit = cfg.Report.Limit
		}

		rep, err := report.NewService(st, limit).Build(ctx, reportRunID)
		if err != nil {
			return eris.Wrap(err, "report: build")
		}

		switch reportFormat {
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		case "table":
			formatReport(os.Stdout, rep)
			return nil
		default:
			return eris.Errorf("report: unknown format %q", reportFormat)
		}
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run", "", "run ID (default: latest run with a snapshot)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "output format: table or json")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 0, "rows per grouped report (default from config)")
	rootCmd.AddCommand(reportCmd)
}

// formatReport writes a tabular rendering of every report section to w.
func formatReport(out io.Writer, rep *report.Report) {
	fmt.Fprintf(out, "Run %s\n\n", rep.RunID)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "CITY\tCOMPANIES")
	for _, c := range rep.Cities {
		fmt.Fprintf(w, "%s\t%d\n", c.City, c.Companies)
	}
	fmt.Fprintln(w, "\t")

	fmt.Fprintln(w, "DOMAIN\tCOMPANIES")
	for _, d := range rep.Domains {
		fmt.Fprintf(w, "%s\t%d\n", d.Domain, d.Companies)
	}
	fmt.Fprintln(w, "\t")

	if rep.MaxFund != nil {
		fmt.Fprintf(w, "Most funded:\t%s (%.0f)\n", rep.MaxFund.Name, rep.MaxFund.FundingTotal)
	}
	if rep.MinFund != nil {
		fmt.Fprintf(w, "Least funded:\t%s (%.0f)\n", rep.MinFund.Name, rep.MinFund.FundingTotal)
	}
	fmt.Fprintln(w, "\t")

	fmt.Fprintln(w, "YEAR\tCOMPANIES\tFUNDING")
	for _, y := range rep.ByYear {
		fmt.Fprintf(w, "%d\t%d\t%.0f\n", y.Year, y.Companies, y.Total)
	}
	fmt.Fprintln(w, "\t")

	fmt.Fprintf(w, "URLs:\t%d valid, %d invalid, %d unchecked\n",
		rep.Verified.Valid, rep.Verified.Invalid, rep.Verified.Unchecked)

	_ = w.Flush()
}
