package handlers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/imamik/branchenv/internal/config"
	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/lifecycle"
)

// Provision creates or updates the environment of a branch and waits until
// it is Ready or Failed.
//
// With updated set the environment is re-rendered and re-applied even when
// it is already Ready. Progress is shown in a terminal UI unless noTUI is set
// or stdout is not a terminal.
func Provision(ctx context.Context, configPath, branch string, updated, noTUI bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	event := environment.EventCreated
	if updated {
		event = environment.EventUpdated
	}
	ref := environment.BranchRef{Name: branch, Event: event}

	id, err := resolverFor(cfg).Resolve(branch)
	if err != nil {
		return err
	}
	log.Printf("Provisioning environment %s for branch %s", id, branch)

	report, err := runWorkflow(ctx, cfg, id, ref, noTUI)
	if err != nil {
		return err
	}
	printReport(report)

	if !report.Succeeded() {
		return fmt.Errorf("provisioning failed in phase %s: %s", report.FailedPhase, report.FailureReason)
	}
	log.Printf("Environment %s is ready at %s", id, report.ExternalEndpoint)
	return nil
}

// runWorkflow runs one workflow for ref, inside the terminal UI when possible.
func runWorkflow(ctx context.Context, cfg *config.Config, id string, ref environment.BranchRef, noTUI bool) (environment.Report, error) {
	run := func(ctx context.Context, observer lifecycle.Observer) (environment.Report, error) {
		var opts []lifecycle.Option
		if observer != nil {
			opts = append(opts, lifecycle.WithObserver(observer))
		}
		orch, cleanup, err := newOrchestrator(ctx, cfg, opts...)
		if err != nil {
			return environment.Report{}, err
		}
		defer cleanup()
		return orch.Handle(ctx, ref)
	}

	if noTUI || !isInteractive() {
		return run(ctx, nil)
	}
	return runTUI(ctx, id, ref.Name, ref.Event, run)
}

// printReport writes a human readable summary of a workflow run.
func printReport(r environment.Report) {
	fmt.Fprintf(output, "Environment: %s (branch %s)\n", r.ID, r.Branch)
	fmt.Fprintf(output, "Run:         %s\n", r.RunID)
	fmt.Fprintf(output, "Phase:       %s\n", r.FinalPhase)
	if r.ExternalEndpoint != "" {
		fmt.Fprintf(output, "Endpoint:    %s\n", r.ExternalEndpoint)
	}
	if r.FailureReason != "" {
		fmt.Fprintf(output, "Failed in:   %s\n", r.FailedPhase)
		fmt.Fprintf(output, "Reason:      %s\n", r.FailureReason)
	}
	if r.Recovered {
		fmt.Fprintln(output, "Recovery:    finalizers were cleared to complete deletion")
	}
	if len(r.Changesets) > 0 {
		fmt.Fprintln(output, "Changesets:")
		for _, cs := range r.Changesets {
			line := fmt.Sprintf("  %-8s %s", cs.Status, cs.Name)
			if cs.Detail != "" {
				line += ": " + cs.Detail
			}
			fmt.Fprintln(output, line)
		}
	}
	fmt.Fprintf(output, "Duration:    %s\n", r.Duration().Round(time.Millisecond))
}
