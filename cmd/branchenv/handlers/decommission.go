package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/charmbracelet/huh"

	"github.com/imamik/branchenv/internal/environment"
)

// ErrAborted is returned when the user declines the confirmation.
var ErrAborted = errors.New("decommission aborted")

// confirmDecommission asks the user before deleting an environment.
var confirmDecommission = func(ctx context.Context, id string) (bool, error) {
	var confirmed bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Decommission environment %s?", id)).
				Description("The namespace and everything in it will be deleted.").
				Affirmative("Delete").
				Negative("Cancel").
				Value(&confirmed),
		),
	).RunWithContext(ctx)
	return confirmed, err
}

// Decommission deletes the environment of a branch and waits until it is gone.
//
// On a terminal the user is asked to confirm unless yes is set.
func Decommission(ctx context.Context, configPath, branch string, yes, noTUI bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	id, err := resolverFor(cfg).Resolve(branch)
	if err != nil {
		return err
	}

	if !yes && isInteractive() {
		ok, err := confirmDecommission(ctx, id)
		if err != nil {
			return fmt.Errorf("confirmation failed: %w", err)
		}
		if !ok {
			return ErrAborted
		}
	}

	log.Printf("Decommissioning environment %s for branch %s", id, branch)

	ref := environment.BranchRef{Name: branch, Event: environment.EventDeleted}
	report, err := runWorkflow(ctx, cfg, id, ref, noTUI)
	if err != nil {
		return err
	}
	printReport(report)

	if !report.Succeeded() {
		return fmt.Errorf("decommission failed in phase %s: %s", report.FailedPhase, report.FailureReason)
	}
	log.Printf("Environment %s deleted", id)
	return nil
}
