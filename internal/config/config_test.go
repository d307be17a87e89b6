package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
naming:
  prefix: pr
  maxLength: 40
template:
  path: deploy/base.yaml
  overrides:
    labels:
      team: auth
    patches:
      - target:
          kind: Cluster
          name: db
        patch: |
          - op: replace
            path: /spec/instances
            value: 1
cluster:
  kubeconfig: /etc/branchenv/kubeconfig
  databaseKind:
    group: postgresql.cnpg.io
    version: v1
    kind: Cluster
exposure:
  provider: hcloud
  hcloud:
    location: fsn1
    targetSelector: role=worker
migration:
  user: app
  changesets:
    - name: system
      dir: db/system
    - name: service
      dir: /abs/service
state:
  backend: s3
  s3:
    region: eu-central
    bucket: branchenv-state
lock:
  backend: redis
  redis:
    addr: redis:6379
`

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pr", cfg.Naming.Prefix)
	assert.Equal(t, 40, cfg.Naming.MaxLength)
	assert.Equal(t, "auth", cfg.Template.Overrides.Labels["team"])
	require.Len(t, cfg.Template.Overrides.Patches, 1)
	assert.Equal(t, "Cluster", cfg.Template.Overrides.Patches[0].Target.Kind)
	assert.Contains(t, cfg.Template.Overrides.Patches[0].Patch, "/spec/instances")

	require.NotNil(t, cfg.Cluster.DatabaseKind)
	assert.Equal(t, "postgresql.cnpg.io", cfg.Cluster.DatabaseKind.GVK().Group)
	assert.Equal(t, "branchenv", cfg.Cluster.FieldManager)

	assert.Equal(t, ExposureHCloud, cfg.Exposure.Provider)
	assert.Equal(t, "lb11", cfg.Exposure.HCloud.LoadBalancerType)

	assert.Equal(t, 5432, cfg.Migration.Port)
	assert.Equal(t, "prefer", cfg.Migration.SSLMode)
	changesets := cfg.Changesets()
	require.Len(t, changesets, 2)
	assert.Equal(t, filepath.Join(dir, "db/system"), changesets[0].Dir)
	assert.Equal(t, "/abs/service", changesets[1].Dir)

	assert.Equal(t, StateS3, cfg.State.Backend)
	assert.Equal(t, "environments", cfg.State.S3.Prefix)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, ":8080", cfg.Webhook.Addr)
	assert.Equal(t, filepath.Join(dir, "deploy/base.yaml"), cfg.Resolve(cfg.Template.Path))
}

func TestLoadFromBytes_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromBytes([]byte("template:\n  path: base.yaml\n"))
	require.NoError(t, err)

	assert.Equal(t, ExposureKubernetes, cfg.Exposure.Provider)
	assert.Equal(t, StateMemory, cfg.State.Backend)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Nil(t, cfg.Cluster.DatabaseKind)
	assert.Equal(t, "base.yaml", cfg.Resolve("base.yaml"), "bytes have no directory to resolve against")
}

func TestLoadFromBytes_ReportsAllProblems(t *testing.T) {
	t.Parallel()
	_, err := LoadFromBytes([]byte(`
naming:
  maxLength: 100
exposure:
  provider: hcloud
migration:
  port: 70000
  changesets:
    - name: system
state:
  backend: s3
lock:
  backend: zookeeper
`))
	require.Error(t, err)

	for _, want := range []string{
		"naming.maxLength must be at most 63",
		"template.path is required",
		"exposure.hcloud.location is required",
		"exposure.hcloud.targetSelector is required",
		"migration.port must be 1-65535",
		"migration.user is required",
		`changeset "system" has no dir`,
		"state.s3.bucket is required",
		"state.s3.region is required",
		"lock.backend must be one of",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFromBytes_InvalidYAML(t *testing.T) {
	t.Parallel()
	_, err := LoadFromBytes([]byte("template: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestReadTemplate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("kind: Secret\n"), 0o600))
	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte("template:\n  path: base.yaml\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	data, err := cfg.ReadTemplate()
	require.NoError(t, err)
	assert.Equal(t, "kind: Secret\n", string(data))
}

func TestFindConfigFileFrom_WalksUp(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	want := filepath.Join(root, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(want, []byte("template:\n  path: x\n"), 0o600))

	got, err := findConfigFileFrom(nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadTimeouts_Defaults(t *testing.T) {
	for _, v := range []string{
		"BRANCHENV_TIMEOUT_READY", "BRANCHENV_TIMEOUT_ENDPOINT", "BRANCHENV_TIMEOUT_DELETE_GRACE",
		"BRANCHENV_TIMEOUT_DELETE", "BRANCHENV_POLL_INTERVAL", "BRANCHENV_TIMEOUT_CALL",
		"BRANCHENV_TIMEOUT_CHANGESET", "BRANCHENV_RETRY_MAX_ATTEMPTS", "BRANCHENV_RETRY_INITIAL_DELAY",
	} {
		t.Setenv(v, "")
	}

	tm := LoadTimeouts()
	assert.Equal(t, 12*time.Minute, tm.Ready)
	assert.Equal(t, 3*time.Minute, tm.Endpoint)
	assert.Equal(t, 5*time.Minute, tm.DeleteGrace)
	assert.Equal(t, 10*time.Minute, tm.Delete)
	assert.Equal(t, 15*time.Second, tm.PollInterval)
	assert.Equal(t, 30*time.Second, tm.Call)
	assert.Equal(t, 10*time.Minute, tm.Changeset)
	assert.Equal(t, 3, tm.RetryMaxAttempts)
	assert.Equal(t, 2*time.Second, tm.RetryInitialDelay)

	lt := tm.Lifecycle()
	assert.Equal(t, tm.Ready, lt.Ready)
	assert.Equal(t, tm.DeleteGrace, lt.DeleteGrace)

	policy := tm.RetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 30*time.Second, policy.CallTimeout)
}

func TestLoadTimeouts_FromEnv(t *testing.T) {
	t.Setenv("BRANCHENV_TIMEOUT_READY", "20m")
	t.Setenv("BRANCHENV_POLL_INTERVAL", "5s")
	t.Setenv("BRANCHENV_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("BRANCHENV_TIMEOUT_ENDPOINT", "soon")
	t.Setenv("BRANCHENV_TIMEOUT_DELETE", "-1m")
	t.Setenv("BRANCHENV_RETRY_INITIAL_DELAY", "")

	tm := LoadTimeouts()
	assert.Equal(t, 20*time.Minute, tm.Ready)
	assert.Equal(t, 5*time.Second, tm.PollInterval)
	assert.Equal(t, 7, tm.RetryMaxAttempts)
	assert.Equal(t, 3*time.Minute, tm.Endpoint, "invalid values fall back to the default")
	assert.Equal(t, 10*time.Minute, tm.Delete, "non-positive values fall back to the default")
}

func TestSecrets_Missing(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(fullConfig))
	require.NoError(t, err)

	t.Setenv("HCLOUD_TOKEN", "")
	t.Setenv("BRANCHENV_S3_ACCESS_KEY", "key")
	t.Setenv("BRANCHENV_S3_SECRET_KEY", "")

	missing := LoadSecrets().Missing(cfg)
	assert.Equal(t, []string{"HCLOUD_TOKEN", "BRANCHENV_S3_SECRET_KEY"}, missing)

	t.Setenv("HCLOUD_TOKEN", "token")
	t.Setenv("BRANCHENV_S3_SECRET_KEY", "secret")
	assert.Empty(t, LoadSecrets().Missing(cfg))
}
