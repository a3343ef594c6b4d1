package schedule

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theatro/theatro/adapter/cli"
	"github.com/theatro/theatro/internal/scheduling/application/queries"
)

var validateDate string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the persisted schedule for a date",
	Long: `Check every assignment of a date's schedule against room hours,
resource availability, setup time chains, and custom rules.

Examples:
  theatro schedule validate
  theatro schedule validate --date 2025-03-10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.ValidateScheduleHandler == nil {
			fmt.Println("Schedule commands require database connection.")
			fmt.Println("Start services with: docker-compose up -d")
			return nil
		}

		date, err := parseDateFlag(validateDate)
		if err != nil {
			return err
		}

		report, err := app.ValidateScheduleHandler.Handle(cmd.Context(), queries.ValidateScheduleQuery{
			Date: date,
		})
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}

		if report.Feasible {
			fmt.Printf("Schedule for %s is feasible (%d assignments checked)\n",
				date.Format("2006-01-02"), report.CheckedCount)
		} else {
			fmt.Printf("Schedule for %s has %d violations\n",
				date.Format("2006-01-02"), len(report.Violations))
			for _, v := range report.Violations {
				fmt.Printf("  [%s] %s\n", v.Kind, v.Description)
			}
		}
		for _, w := range report.Warnings {
			fmt.Printf("  warning [%s] %s\n", w.Kind, w.Description)
		}
		for _, r := range report.Recommendations {
			fmt.Printf("  hint: %s\n", r)
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateDate, "date", "", "schedule date (YYYY-MM-DD, default today)")
}
