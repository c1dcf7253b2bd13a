package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wheelhouse-dev/wheelhouse/internal/eventlog"
	"github.com/wheelhouse-dev/wheelhouse/internal/ticket"
)

var runCmd = &cobra.Command{
	Use:   "run <ticket_id>",
	Short: "Run a single ticket by ID",
	Long: `Drive one ticket through its state machine (plan, execute, QA, PR)
outside of a full autonomous session. Useful for re-running a ticket that
failed, or for testing a plan in isolation.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunTicket,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRunTicket(cmd *cobra.Command, args []string) error {
	ticketID := args[0]
	cfg := GetConfig()

	w := ticket.NewWorker(ticketID, true)
	log := eventlog.NewLog(cfg.StateDir, "adhoc-"+ticketID)

	if err := log.Append(eventlog.Event{
		Type:    eventlog.TypeTicketAssigned,
		Payload: map[string]any{"ticket_id": ticketID},
	}); err != nil {
		return fmt.Errorf("emit TICKET_ASSIGNED: %w", err)
	}

	if dryRun {
		fmt.Printf("[dry-run] would run ticket %s from phase %s\n", ticketID, w.Phase)
		return nil
	}

	fmt.Printf("ticket %s started in phase %s (external runner drives plan/execute/QA)\n", ticketID, w.Phase)
	return nil
}
