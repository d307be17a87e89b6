package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/kubernetes"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/imamik/branchenv/internal/cluster"
	"github.com/imamik/branchenv/internal/config"
	"github.com/imamik/branchenv/internal/environment"
	"github.com/imamik/branchenv/internal/exposure"
	"github.com/imamik/branchenv/internal/lifecycle"
	"github.com/imamik/branchenv/internal/ui/tui"
	"github.com/imamik/branchenv/internal/util/naming"
	"github.com/imamik/branchenv/internal/webhook"
)

const (
	testConfig  = "testdata/branchenv.yaml"
	testAddress = "203.0.113.7"
	testBranch  = "feature/login"
	testID      = "pr-feature-login"
)

type stubProvider struct {
	mu       sync.Mutex
	released []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) RequestExternalAddress(_ context.Context, id string, _ *unstructured.Unstructured) (exposure.Handle, error) {
	return exposure.Handle{ID: id, Provider: "stub", Ref: id}, nil
}

func (p *stubProvider) GetAssignedAddress(context.Context, exposure.Handle) (string, bool, error) {
	return testAddress, true, nil
}

func (p *stubProvider) Release(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
	return nil
}

type fixture struct {
	api      *cluster.FakeAPI
	provider *stubProvider
	out      *bytes.Buffer
}

// setup replaces the factories with in-memory fakes shared by every
// handler call of the test.
func setup(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("BRANCHENV_POLL_INTERVAL", "2ms")
	t.Setenv("BRANCHENV_RETRY_INITIAL_DELAY", "1ms")
	t.Setenv("BRANCHENV_TIMEOUT_READY", "5s")
	t.Setenv("BRANCHENV_TIMEOUT_ENDPOINT", "5s")

	f := &fixture{api: cluster.NewFakeAPI(), provider: &stubProvider{}, out: &bytes.Buffer{}}

	origBackend := newClusterBackend
	origProvider := newExposureProvider
	origInteractive := isInteractive
	origOutput := output
	origFind := findConfigFile
	t.Cleanup(func() {
		newClusterBackend = origBackend
		newExposureProvider = origProvider
		isInteractive = origInteractive
		output = origOutput
		findConfigFile = origFind
	})

	newClusterBackend = func(*config.Config) (ClusterBackend, kubernetes.Interface, error) {
		return f.api, k8sfake.NewSimpleClientset(), nil
	}
	newExposureProvider = func(*config.Config, config.Secrets, kubernetes.Interface) exposure.Provider {
		return f.provider
	}
	isInteractive = func() bool { return false }
	output = f.out
	return f
}

func TestProvision(t *testing.T) {
	f := setup(t)

	err := Provision(context.Background(), testConfig, testBranch, false, true)
	require.NoError(t, err)

	assert.True(t, f.api.Exists(testID))
	assert.Contains(t, f.out.String(), "Phase:       Ready")
	assert.Contains(t, f.out.String(), "Endpoint:    "+testAddress)
}

func TestProvision_InvalidBranch(t *testing.T) {
	setup(t)

	err := Provision(context.Background(), testConfig, "///", false, true)
	var invalid *naming.InvalidNameError
	require.ErrorAs(t, err, &invalid)
}

func TestProvision_DatabaseFailure(t *testing.T) {
	f := setup(t)
	f.api.SetDatabaseFailure(testID, "CrashLoopBackOff")

	err := Provision(context.Background(), testConfig, testBranch, false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(environment.PhaseWaitingReady))
	assert.Contains(t, f.out.String(), "CrashLoopBackOff")
}

func TestProvision_UsesTUIOnTerminal(t *testing.T) {
	setup(t)
	isInteractive = func() bool { return true }

	var (
		mu     sync.Mutex
		phases []environment.Phase
		gotID  string
	)
	runTUI = func(ctx context.Context, id, _ string, _ environment.EventKind, fn tui.WorkflowFunc) (environment.Report, error) {
		gotID = id
		return fn(ctx, lifecycle.ObserverFuncs{OnPhase: func(_ string, _, to environment.Phase) {
			mu.Lock()
			defer mu.Unlock()
			phases = append(phases, to)
		}})
	}
	t.Cleanup(func() { runTUI = tui.Run })

	require.NoError(t, Provision(context.Background(), testConfig, testBranch, false, false))

	assert.Equal(t, testID, gotID)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, environment.ProvisionPhases, phases)
}

func TestDecommission(t *testing.T) {
	f := setup(t)
	require.NoError(t, Provision(context.Background(), testConfig, testBranch, false, true))

	require.NoError(t, Decommission(context.Background(), testConfig, testBranch, true, true))

	assert.False(t, f.api.Exists(testID))
	assert.Equal(t, []string{testID}, f.provider.released)
	assert.Contains(t, f.out.String(), "Phase:       Deleted")
}

func TestDecommission_Declined(t *testing.T) {
	f := setup(t)
	isInteractive = func() bool { return true }
	orig := confirmDecommission
	t.Cleanup(func() { confirmDecommission = orig })

	var asked string
	confirmDecommission = func(_ context.Context, id string) (bool, error) {
		asked = id
		return false, nil
	}

	err := Decommission(context.Background(), testConfig, testBranch, false, true)
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, testID, asked)
	assert.Zero(t, f.api.Calls(cluster.OpDelete))
}

func TestResolve(t *testing.T) {
	f := setup(t)

	require.NoError(t, Resolve(testConfig, testBranch))
	assert.Equal(t, testID+"\n", f.out.String())
}

func TestResolve_WithoutConfig(t *testing.T) {
	f := setup(t)
	findConfigFile = func() (string, error) { return "", os.ErrNotExist }

	require.NoError(t, Resolve("", "Feature/Login"))
	assert.Equal(t, "feature-login\n", f.out.String())
}

func TestLoadConfig_NotFound(t *testing.T) {
	setup(t)
	findConfigFile = func() (string, error) { return "", os.ErrNotExist }

	_, err := loadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config file found")
}

func TestRender(t *testing.T) {
	f := setup(t)

	require.NoError(t, Render(testConfig, testBranch))

	out := f.out.String()
	assert.Contains(t, out, "kind: Namespace")
	assert.Contains(t, out, "name: "+testID)
	assert.Contains(t, out, "team: platform")
	assert.Contains(t, out, testBranch)
	assert.Zero(t, f.api.Calls(cluster.OpApply))
}

func TestStatus(t *testing.T) {
	f := setup(t)
	require.NoError(t, Provision(context.Background(), testConfig, testBranch, false, true))
	f.out.Reset()

	require.NoError(t, Status(context.Background(), testConfig, testBranch, true))

	var view StatusView
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &view))
	assert.Equal(t, testID, view.ID)
	assert.Equal(t, string(cluster.NamespaceActive), view.Namespace)
	assert.True(t, view.DatabaseReady)
}

func TestStatus_Formatted(t *testing.T) {
	f := setup(t)

	require.NoError(t, Status(context.Background(), testConfig, testBranch, false))

	out := f.out.String()
	assert.Contains(t, out, "branchenv environment: "+testID)
	assert.Contains(t, out, "Namespace: "+string(cluster.NamespaceAbsent))
	assert.Contains(t, out, "Database:  not ready")
}

func TestApplyState(t *testing.T) {
	t.Parallel()
	view := StatusView{ID: testID, Branch: testBranch}
	applyState(&view, &environment.State{
		ID:               testID,
		Branch:           testBranch,
		Phase:            environment.PhaseFailed,
		FailedPhase:      environment.PhaseMigrating,
		FailureReason:    "changeset B failed",
		ExternalEndpoint: testAddress,
	})
	assert.Equal(t, "Failed", view.Phase)
	assert.Equal(t, "Migrating", view.FailedPhase)
	assert.Equal(t, testAddress, view.ExternalEndpoint)
}

func TestSync(t *testing.T) {
	f := setup(t)
	require.NoError(t, Provision(context.Background(), testConfig, "old", false, true))
	require.True(t, f.api.Exists("pr-old"))

	branchesFile := filepath.Join(t.TempDir(), "branches.txt")
	require.NoError(t, os.WriteFile(branchesFile, []byte("# live branches\n\nmain\n"), 0o600))

	require.NoError(t, Sync(context.Background(), testConfig, []string{testBranch}, branchesFile, 2))

	assert.True(t, f.api.Exists(testID))
	assert.True(t, f.api.Exists("pr-main"))
	assert.False(t, f.api.Exists("pr-old"))
}

func TestSync_NoBranches(t *testing.T) {
	setup(t)
	err := Sync(context.Background(), testConfig, nil, "", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no branches given")
}

func TestResolveBranches(t *testing.T) {
	t.Parallel()
	desired, invalid := resolveBranches(naming.Resolver{}, []string{"feature/a", "feature-a", "feature/a", "///", "main"})

	assert.Equal(t, map[string]string{"feature-a": "feature/a", "main": "main"}, desired)
	assert.Len(t, invalid, 2)
}

func TestReadBranchesFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := readBranchesFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestNewOrchestrator_MissingSecrets(t *testing.T) {
	setup(t)
	t.Setenv("HCLOUD_TOKEN", "")

	cfg, err := config.Load("testdata/hcloud.yaml")
	require.NoError(t, err)

	_, _, err = newOrchestrator(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HCLOUD_TOKEN")
}

func TestKubeOptions(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Cluster: config.Cluster{
		FieldManager: "ci",
		DatabaseKind: &config.Kind{Group: "postgresql.cnpg.io", Version: "v1", Kind: "Cluster"},
		FinalizerKinds: []config.Kind{
			{Version: "v1", Kind: "PersistentVolumeClaim"},
		},
	}}

	opts := kubeOptions(cfg)
	assert.Equal(t, "ci", opts.FieldManager)
	assert.Equal(t, "Cluster", opts.DatabaseKind.Kind)
	require.Len(t, opts.FinalizerKinds, 1)
	assert.Equal(t, "PersistentVolumeClaim", opts.FinalizerKinds[0].Kind)
}

func TestServe(t *testing.T) {
	setup(t)
	orig := runServer
	t.Cleanup(func() { runServer = orig })

	var health int
	runServer = func(_ context.Context, srv *webhook.Server, addr string) error {
		if addr != ":8080" {
			return errors.New("unexpected address " + addr)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		health = rec.Code
		return nil
	}

	require.NoError(t, Serve(context.Background(), testConfig, ""))
	assert.Equal(t, http.StatusOK, health)
}
