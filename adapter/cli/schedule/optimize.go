package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/theatro/theatro/adapter/cli"
	"github.com/theatro/theatro/internal/scheduling/application/commands"
	"github.com/theatro/theatro/internal/scheduling/application/services"
	"github.com/theatro/theatro/internal/scheduling/domain"
	"github.com/theatro/theatro/internal/scheduling/infrastructure/jobs"
)

var (
	optimizeDate          string
	optimizeBackground    bool
	optimizeMaxIterations int
	optimizeTenure        int
	optimizeAcceptPartial bool
)

// optimizeOverrides maps the optional flags onto run overrides; a zero
// flag keeps the engine default.
func optimizeOverrides() services.RunOverrides {
	var o services.RunOverrides
	if optimizeMaxIterations > 0 {
		o.MaxIterations = &optimizeMaxIterations
	}
	if optimizeTenure > 0 {
		o.TabuTenure = &optimizeTenure
	}
	return o
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize the schedule for a date",
	Long: `Build or improve the operating room schedule for a date.

The run starts from the persisted schedule when one exists, otherwise it
constructs one greedily and then improves it with tabu search.

Examples:
  theatro schedule optimize
  theatro schedule optimize --date 2025-03-10
  theatro schedule optimize --background`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.OptimizeScheduleHandler == nil {
			fmt.Println("Schedule commands require database connection.")
			fmt.Println("Start services with: docker-compose up -d")
			return nil
		}

		date, err := parseDateFlag(optimizeDate)
		if err != nil {
			return err
		}

		if optimizeBackground {
			if app.TaskClient == nil {
				return fmt.Errorf("background runs require a Redis connection")
			}
			payload := jobs.ScheduleOptimizePayload{
				Date:          date,
				ActorID:       app.CurrentActorID,
				AcceptPartial: optimizeAcceptPartial,
			}
			if optimizeMaxIterations > 0 {
				payload.MaxIterations = &optimizeMaxIterations
			}
			if optimizeTenure > 0 {
				payload.TabuTenure = &optimizeTenure
			}
			task, err := jobs.NewScheduleOptimizeTask(payload)
			if err != nil {
				return err
			}
			info, err := app.TaskClient.Enqueue(task)
			if err != nil {
				return fmt.Errorf("failed to enqueue optimization: %w", err)
			}
			fmt.Printf("Optimization queued for %s (task %s)\n",
				date.Format("2006-01-02"), info.ID)
			return nil
		}

		result, err := app.OptimizeScheduleHandler.Handle(cmd.Context(), commands.OptimizeScheduleCommand{
			Date:          date,
			ActorID:       app.CurrentActorID,
			Overrides:     optimizeOverrides(),
			AcceptPartial: optimizeAcceptPartial,
		})
		if err != nil {
			if errors.Is(err, domain.ErrBusy) {
				fmt.Println("The engine is at capacity, try again shortly or use --background.")
				return nil
			}
			return fmt.Errorf("optimization failed: %w", err)
		}

		fmt.Printf("Schedule for %s optimized in %s\n",
			date.Format("2006-01-02"), result.Duration.Round(time.Millisecond))
		fmt.Printf("  assigned:   %d\n", result.AssignedCount)
		fmt.Printf("  pending:    %d\n", result.PendingCount)
		fmt.Printf("  cost:       %.1f\n", result.Cost)
		fmt.Printf("  iterations: %d\n", result.Iterations)
		if result.Cancelled {
			if result.Persisted {
				fmt.Println("  note: search hit its time budget, committed best found")
			} else {
				fmt.Println("  note: search hit its time budget; rerun with --accept-partial to commit the best found")
			}
		}
		for _, a := range result.Assignments {
			fmt.Printf("  %s  room %s  setup %s  op %s-%s\n",
				a.SurgeryID, a.RoomID,
				a.SetupStart.Format("15:04"),
				a.OperationStart.Format("15:04"), a.End.Format("15:04"))
		}
		return nil
	},
}

func init() {
	optimizeCmd.Flags().StringVar(&optimizeDate, "date", "", "schedule date (YYYY-MM-DD, default today)")
	optimizeCmd.Flags().BoolVar(&optimizeBackground, "background", false, "enqueue the run on the worker queue")
	optimizeCmd.Flags().IntVar(&optimizeMaxIterations, "max-iterations", 0, "override the search iteration budget for this run")
	optimizeCmd.Flags().IntVar(&optimizeTenure, "tenure", 0, "override the tabu tenure for this run")
	optimizeCmd.Flags().BoolVar(&optimizeAcceptPartial, "accept-partial", false, "commit the best schedule found even when the run is cut short")
}
