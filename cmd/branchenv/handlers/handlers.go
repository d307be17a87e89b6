// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Handlers are framework-agnostic and can be tested
// independently of the CLI framework.
package handlers

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/mattn/go-isatty"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/config"
	"github.com/imamik/branchenv/internal/exposure"
	"github.com/imamik/branchenv/internal/lifecycle"
	"github.com/imamik/branchenv/internal/lock"
	"github.com/imamik/branchenv/internal/migration"
	"github.com/imamik/branchenv/internal/recovery"
	"github.com/imamik/branchenv/internal/render"
	"github.com/imamik/branchenv/internal/state"
	"github.com/imamik/branchenv/internal/ui/tui"
	"github.com/imamik/branchenv/internal/util/naming"
)

// ClusterBackend is the cluster access the handlers need. Both
// *cluster.KubeAPI and *cluster.FakeAPI implement it.
type ClusterBackend interface {
	cluster.API
	ListEnvironments(ctx context.Context) ([]cluster.Environment, error)
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfigFile loads config from file.
	loadConfigFile = config.Load

	// findConfigFile locates branchenv.yaml from the working directory upwards.
	findConfigFile = config.FindConfigFile

	// newClusterBackend connects to the cluster named by the config.
	newClusterBackend = func(cfg *config.Config) (ClusterBackend, kubernetes.Interface, error) {
		api, err := cluster.NewKubeAPIFromKubeconfig(cfg.Resolve(cfg.Cluster.Kubeconfig), kubeOptions(cfg))
		if err != nil {
			return nil, nil, err
		}
		return api, api.Clientset(), nil
	}

	// newExposureProvider creates the configured exposure provider.
	newExposureProvider = func(cfg *config.Config, secrets config.Secrets, clientset kubernetes.Interface) exposure.Provider {
		kube := exposure.NewKubeProvider(clientset)
		if cfg.Exposure.Provider != config.ExposureHCloud {
			return kube
		}
		client := hcloud.NewClient(
			hcloud.WithToken(secrets.HCloudToken),
			hcloud.WithApplication("branchenv", "dev"),
		)
		return exposure.NewHCloudProvider(client, kube, exposure.HCloudOptions{
			Location:         cfg.Exposure.HCloud.Location,
			LoadBalancerType: cfg.Exposure.HCloud.LoadBalancerType,
			TargetSelector:   cfg.Exposure.HCloud.TargetSelector,
			UsePrivateIP:     cfg.Exposure.HCloud.UsePrivateIP,
		})
	}

	// newMigrationTool creates the schema migration tool.
	newMigrationTool = func() migration.Tool {
		return migration.NewGooseTool()
	}

	// newStore creates the configured state store.
	newStore = func(ctx context.Context, cfg *config.Config, secrets config.Secrets) (state.Store, error) {
		if cfg.State.Backend != config.StateS3 {
			return state.NewMemoryStore(), nil
		}
		s3cfg := cfg.State.S3
		store, err := state.NewS3Store(ctx, state.S3Options{
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			Bucket:    s3cfg.Bucket,
			Prefix:    s3cfg.Prefix,
			AccessKey: secrets.S3AccessKey,
			SecretKey: secrets.S3SecretKey,
			PathStyle: s3cfg.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}

	// newLocker creates the configured locker and a function releasing its connections.
	newLocker = func(ctx context.Context, cfg *config.Config, secrets config.Secrets) (lock.Locker, func(), error) {
		if cfg.Lock.Backend != config.LockRedis {
			return lock.NewLocalLocker(), func() {}, nil
		}
		locker, client, err := lock.NewRedisLocker(ctx, cfg.Lock.Redis.Addr, secrets.RedisPassword, cfg.Lock.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return locker, func() {
			if err := client.Close(); err != nil {
				log.Printf("Warning: failed to close redis client: %v", err)
			}
		}, nil
	}

	// isInteractive reports whether stdout is a terminal.
	isInteractive = func() bool {
		return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}

	// runTUI shows workflow progress in a terminal UI.
	runTUI = tui.Run
)

// loadConfig loads the config at configPath, or finds branchenv.yaml when
// configPath is empty.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		path, err := findConfigFile()
		if err != nil {
			return nil, fmt.Errorf("no config file found: %w", err)
		}
		configPath = path
	}

	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Printf("Using config: %s", configPath)
	return cfg, nil
}

func resolverFor(cfg *config.Config) naming.Resolver {
	return naming.Resolver{Prefix: cfg.Naming.Prefix, MaxLength: cfg.Naming.MaxLength}
}

func kubeOptions(cfg *config.Config) cluster.KubeOptions {
	opts := cluster.KubeOptions{FieldManager: cfg.Cluster.FieldManager}
	if cfg.Cluster.DatabaseKind != nil {
		opts.DatabaseKind = cfg.Cluster.DatabaseKind.GVK()
	}
	if len(cfg.Cluster.FinalizerKinds) > 0 {
		opts.FinalizerKinds = make([]schema.GroupVersionKind, len(cfg.Cluster.FinalizerKinds))
		for i, k := range cfg.Cluster.FinalizerKinds {
			opts.FinalizerKinds[i] = k.GVK()
		}
	}
	return opts
}

func loadSecrets(cfg *config.Config) (config.Secrets, error) {
	secrets := config.LoadSecrets()
	if missing := secrets.Missing(cfg); len(missing) > 0 {
		return secrets, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return secrets, nil
}

// newOrchestrator wires the lifecycle orchestrator from cfg. The returned
// function releases connections held by the orchestrator's dependencies.
func newOrchestrator(ctx context.Context, cfg *config.Config, opts ...lifecycle.Option) (*lifecycle.Orchestrator, func(), error) {
	secrets, err := loadSecrets(cfg)
	if err != nil {
		return nil, nil, err
	}
	timeouts := config.LoadTimeouts()
	policy := timeouts.RetryPolicy()

	base, err := cfg.ReadTemplate()
	if err != nil {
		return nil, nil, err
	}

	api, clientset, err := newClusterBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	reconciler := cluster.NewReconciler(api, policy)

	provider := newExposureProvider(cfg, secrets, clientset)
	exposer := exposure.NewManager(provider, policy, timeouts.PollInterval, timeouts.Endpoint)

	store, err := newStore(ctx, cfg, secrets)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}

	locker, closeLocker, err := newLocker(ctx, cfg, secrets)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect lock backend: %w", err)
	}

	plan := lifecycle.MigrationPlan{
		Endpoint: migration.Endpoint{
			Host:     cfg.Migration.Host,
			Port:     cfg.Migration.Port,
			User:     cfg.Migration.User,
			Password: secrets.DBPassword,
			Database: cfg.Migration.Database,
			SSLMode:  cfg.Migration.SSLMode,
		},
		Changesets: cfg.Changesets(),
	}

	all := append([]lifecycle.Option{
		lifecycle.WithTimeouts(timeouts.Lifecycle()),
		lifecycle.WithResolver(resolverFor(cfg)),
		lifecycle.WithStore(store),
		lifecycle.WithLocker(locker),
		lifecycle.WithMigrationPlan(plan),
	}, opts...)

	orch, err := lifecycle.New(lifecycle.Dependencies{
		Renderer:  render.Template{Base: base, Overrides: cfg.Template.Overrides},
		Cluster:   reconciler,
		Exposure:  exposer,
		Migrator:  migration.NewDriver(newMigrationTool(), policy, timeouts.Changeset),
		Recoverer: recovery.New(reconciler),
	}, all...)
	if err != nil {
		closeLocker()
		return nil, nil, err
	}
	return orch, closeLocker, nil
}
