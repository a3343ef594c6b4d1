package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/theatro/theatro/adapter/cli"
	"github.com/theatro/theatro/internal/scheduling/application/commands"
	"github.com/theatro/theatro/internal/scheduling/application/services"
	"github.com/theatro/theatro/internal/scheduling/domain"
)

var (
	emergencyTypeID      string
	emergencyDuration    int
	emergencyUrgency     string
	emergencySurgeonID   string
	emergencyPriority    int
	emergencyAllowBump   bool
	emergencyAllowOT     bool
	emergencyAllowBackup bool
)

var emergencyCmd = &cobra.Command{
	Use:   "emergency",
	Short: "Insert an arriving emergency into the live schedule",
	Long: `Work an emergency surgery into today's schedule.

The engine tries the least disruptive option first: an existing gap, an
empty backup room, bumping a less urgent case, then scheduled overtime.
When nothing fits the deadline the case escalates to manual handling.

Examples:
  theatro schedule emergency --type 6f2c... --duration 90 --urgency immediate
  theatro schedule emergency --type 6f2c... --duration 60 --urgency urgent --surgeon 9a41...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := cli.GetApp()
		if app == nil || app.InsertEmergencyHandler == nil {
			fmt.Println("Schedule commands require database connection.")
			fmt.Println("Start services with: docker-compose up -d")
			return nil
		}

		typeID, err := uuid.Parse(emergencyTypeID)
		if err != nil {
			return fmt.Errorf("invalid surgery type id: %w", err)
		}
		if emergencyDuration <= 0 {
			return fmt.Errorf("duration must be positive")
		}
		urgency := domain.ParseUrgency(emergencyUrgency)
		if urgency == domain.UrgencyScheduled {
			return fmt.Errorf("urgency must be immediate, urgent, or semi_urgent")
		}

		now := time.Now()
		surgery := domain.Surgery{
			ID:          uuid.New(),
			TypeID:      typeID,
			Duration:    time.Duration(emergencyDuration) * time.Minute,
			Urgency:     urgency,
			Priority:    emergencyPriority,
			Status:      domain.SurgeryStatusPending,
			ArrivalTime: &now,
		}
		if emergencySurgeonID != "" {
			surgeonID, err := uuid.Parse(emergencySurgeonID)
			if err != nil {
				return fmt.Errorf("invalid surgeon id: %w", err)
			}
			surgery.SurgeonID = &surgeonID
		}

		result, err := app.InsertEmergencyHandler.Handle(cmd.Context(), commands.InsertEmergencyCommand{
			Surgery:          surgery,
			Now:              now,
			ActorID:          app.CurrentActorID,
			AllowBumping:     emergencyAllowBump,
			AllowOvertime:    emergencyAllowOT,
			AllowBackupRooms: emergencyAllowBackup,
		})
		if err != nil {
			return fmt.Errorf("emergency insertion failed: %w", err)
		}

		if result.Strategy == services.StrategyManual {
			fmt.Printf("Could not place emergency %s automatically: %s\n",
				surgery.ID, result.ManualReason)
			fmt.Println("Escalate to the scheduling coordinator.")
			return nil
		}

		a := result.Assignment
		fmt.Printf("Emergency %s placed via %s\n", surgery.ID, result.Strategy)
		fmt.Printf("  room:      %s\n", a.RoomID)
		fmt.Printf("  operation: %s-%s (waits %d min)\n",
			a.OperationStart.Format("15:04"), a.End.Format("15:04"), result.WaitMinutes)
		if len(result.BumpedIDs) > 0 {
			fmt.Printf("  bumped:    %d case(s)\n", len(result.BumpedIDs))
		}
		if result.OvertimeMinutes > 0 {
			fmt.Printf("  overtime:  %.0f min\n", result.OvertimeMinutes)
		}
		fmt.Printf("  disruption score: %.2f\n", result.DisruptionScore)
		return nil
	},
}

func init() {
	emergencyCmd.Flags().StringVar(&emergencyTypeID, "type", "", "surgery type id (required)")
	emergencyCmd.Flags().IntVar(&emergencyDuration, "duration", 0, "expected duration in minutes (required)")
	emergencyCmd.Flags().StringVar(&emergencyUrgency, "urgency", "urgent", "immediate, urgent, or semi_urgent")
	emergencyCmd.Flags().StringVar(&emergencySurgeonID, "surgeon", "", "required surgeon id")
	emergencyCmd.Flags().IntVar(&emergencyPriority, "priority", 0, "tie-break priority")
	emergencyCmd.Flags().BoolVar(&emergencyAllowBump, "allow-bumping", true, "permit bumping a less urgent case")
	emergencyCmd.Flags().BoolVar(&emergencyAllowOT, "allow-overtime", true, "permit placement past room close")
	emergencyCmd.Flags().BoolVar(&emergencyAllowBackup, "allow-backup-rooms", true, "permit opening an unused room")
	_ = emergencyCmd.MarkFlagRequired("type")
	_ = emergencyCmd.MarkFlagRequired("duration")
}
