package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/lifecycle"
	"github.com/imamik/branchenv/internal/util/async"
	"github.com/imamik/branchenv/internal/util/naming"
)

// DefaultSyncParallelism bounds the number of concurrent workflows in Sync.
const DefaultSyncParallelism = 4

// Sync converges the managed environments to a set of live branches: every
// branch gets an environment and managed environments of other branches are
// decommissioned.
func Sync(ctx context.Context, configPath string, branches []string, branchesFile string, parallel int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if branchesFile != "" {
		fromFile, err := readBranchesFile(branchesFile)
		if err != nil {
			return err
		}
		branches = append(branches, fromFile...)
	}
	if len(branches) == 0 {
		return errors.New("no branches given: use --branch or --branches-file")
	}

	api, _, err := newClusterBackend(cfg)
	if err != nil {
		return err
	}
	managed, err := api.ListEnvironments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list environments: %w", err)
	}

	orch, cleanup, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	desired, invalid := resolveBranches(resolverFor(cfg), branches)
	for _, err := range invalid {
		log.Printf("Warning: skipping branch: %v", err)
	}

	var tasks []async.Task
	ids := make([]string, 0, len(desired))
	for id := range desired {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tasks = append(tasks, workflowTask(orch, id, environment.BranchRef{Name: desired[id], Event: environment.EventCreated}))
	}

	for _, env := range managed {
		if _, ok := desired[env.ID]; ok {
			continue
		}
		if env.Branch == "" {
			log.Printf("Warning: environment %s has no branch annotation, skipping", env.ID)
			continue
		}
		if id, err := resolverFor(cfg).Resolve(env.Branch); err != nil || id != env.ID {
			log.Printf("Warning: environment %s does not match branch %q under the current naming, skipping", env.ID, env.Branch)
			continue
		}
		tasks = append(tasks, workflowTask(orch, env.ID, environment.BranchRef{Name: env.Branch, Event: environment.EventDeleted}))
	}

	log.Printf("Syncing %d environments (%d branches, %d managed)", len(tasks), len(desired), len(managed))
	if err := async.RunParallel(ctx, tasks, parallel); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	log.Printf("Sync complete")
	return nil
}

func workflowTask(orch *lifecycle.Orchestrator, id string, ref environment.BranchRef) async.Task {
	return async.Task{
		Name: fmt.Sprintf("%s %s", strings.ToLower(string(ref.Event)), id),
		Func: func(ctx context.Context) error {
			report, err := orch.Handle(ctx, ref)
			if err != nil {
				return err
			}
			log.Println(report.Summary())
			if !report.Succeeded() {
				return fmt.Errorf("ended in %s: %s", report.FinalPhase, report.FailureReason)
			}
			return nil
		},
	}
}

// resolveBranches maps environment ids to their branch, dropping duplicates
// and collecting names that do not resolve.
func resolveBranches(resolver naming.Resolver, branches []string) (map[string]string, []error) {
	desired := make(map[string]string, len(branches))
	var invalid []error
	for _, branch := range branches {
		id, err := resolver.Resolve(branch)
		if err != nil {
			invalid = append(invalid, err)
			continue
		}
		if prev, ok := desired[id]; ok && prev != branch {
			invalid = append(invalid, fmt.Errorf("branch %q resolves to %s like %q", branch, id, prev))
			continue
		}
		desired[id] = branch
	}
	return desired, invalid
}

// readBranchesFile reads one branch per line. Blank lines and lines
// starting with # are ignored.
func readBranchesFile(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open branches file: %w", err)
	}
	defer f.Close()

	var branches []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		branches = append(branches, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read branches file: %w", err)
	}
	return branches, nil
}
