package schedule

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Cmd is the schedule command group
var Cmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage operating room schedules",
	Long:  `Optimize, validate, and adjust operating room schedules for a date.`,
}

func init() {
	Cmd.AddCommand(optimizeCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(emergencyCmd)
}

// parseDateFlag parses a --date value, defaulting to today.
func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date format, use YYYY-MM-DD: %w", err)
	}
	return date, nil
}
