package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/imamik/branchenv/internal/environment"
)

// StatusView combines the persisted workflow state and the live cluster
// state of one environment.
type StatusView struct {
	ID               string    `json:"id"`
	Branch           string    `json:"branch"`
	Phase            string    `json:"phase"`
	RunID            string    `json:"runID,omitempty"`
	ExternalEndpoint string    `json:"externalEndpoint,omitempty"`
	FailedPhase      string    `json:"failedPhase,omitempty"`
	FailureReason    string    `json:"failureReason,omitempty"`
	LastTransitionAt time.Time `json:"lastTransitionAt,omitempty"`
	Namespace        string    `json:"namespace"`
	DatabaseReady    bool      `json:"databaseReady"`
	DatabaseReason   string    `json:"databaseReason,omitempty"`
}

// Status shows the state of a branch's environment.
func Status(ctx context.Context, configPath, branch string, jsonOutput bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	id, err := resolverFor(cfg).Resolve(branch)
	if err != nil {
		return err
	}

	secrets, err := loadSecrets(cfg)
	if err != nil {
		return err
	}

	view := StatusView{ID: id, Branch: branch, Phase: "Unknown"}

	store, err := newStore(ctx, cfg, secrets)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	st, err := store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if st != nil {
		applyState(&view, st)
	}

	api, _, err := newClusterBackend(cfg)
	if err != nil {
		return err
	}
	live, err := api.GetResourceStatus(ctx, id)
	if err != nil {
		log.Printf("Warning: failed to read cluster status: %v", err)
		view.Namespace = "Unknown"
	} else {
		view.Namespace = string(live.Namespace)
		view.DatabaseReady = live.Database.Ready
		view.DatabaseReason = live.Database.Reason
	}

	if jsonOutput {
		return printStatusJSON(view)
	}
	printStatusFormatted(view)
	return nil
}

func applyState(view *StatusView, st *environment.State) {
	view.Phase = string(st.Phase)
	view.RunID = st.RunID
	view.ExternalEndpoint = st.ExternalEndpoint
	view.FailedPhase = string(st.FailedPhase)
	view.FailureReason = st.FailureReason
	view.LastTransitionAt = st.LastTransitionAt
	if st.Branch != "" {
		view.Branch = st.Branch
	}
}

// printStatusJSON outputs the status as JSON.
func printStatusJSON(view StatusView) error {
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	_, err = fmt.Fprintln(output, string(data))
	return err
}

// printStatusFormatted outputs the status in a formatted display.
func printStatusFormatted(view StatusView) {
	fmt.Fprintf(output, "branchenv environment: %s (branch %s)\n", view.ID, view.Branch)
	fmt.Fprintln(output, "─────────────────────────────────────")
	fmt.Fprintf(output, "Phase:     %s\n", view.Phase)
	if view.ExternalEndpoint != "" {
		fmt.Fprintf(output, "Endpoint:  %s\n", view.ExternalEndpoint)
	}
	if view.FailureReason != "" {
		fmt.Fprintf(output, "Failed in: %s (%s)\n", view.FailedPhase, view.FailureReason)
	}
	if !view.LastTransitionAt.IsZero() {
		fmt.Fprintf(output, "Since:     %s\n", view.LastTransitionAt.Format(time.RFC3339))
	}
	fmt.Fprintln(output)
	fmt.Fprintf(output, "Namespace: %s\n", view.Namespace)
	db := "not ready"
	if view.DatabaseReady {
		db = "ready"
	}
	if view.DatabaseReason != "" {
		db += " (" + view.DatabaseReason + ")"
	}
	fmt.Fprintf(output, "Database:  %s\n", db)
}
