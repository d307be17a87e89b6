package config

import (
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/imamik/branchenv/internal/migration"
	"github.com/imamik/branchenv/internal/render"
)

// ExposureProvider selects how environments get an external address.
type ExposureProvider string

const (
	// ExposureKubernetes relies on the cluster's LoadBalancer implementation.
	ExposureKubernetes ExposureProvider = "kubernetes"
	// ExposureHCloud provisions a dedicated Hetzner Cloud load balancer.
	ExposureHCloud ExposureProvider = "hcloud"
)

// StateBackend selects where environment state is persisted.
type StateBackend string

const (
	StateMemory StateBackend = "memory"
	StateS3     StateBackend = "s3"
)

// LockBackend selects how runs are coordinated.
type LockBackend string

const (
	LockLocal LockBackend = "local"
	LockRedis LockBackend = "redis"
)

// Config is the branchenv configuration file.
type Config struct {
	Naming    Naming    `yaml:"naming"`
	Template  Template  `yaml:"template"`
	Cluster   Cluster   `yaml:"cluster"`
	Exposure  Exposure  `yaml:"exposure"`
	Migration Migration `yaml:"migration"`
	State     State     `yaml:"state"`
	Lock      Lock      `yaml:"lock"`
	Webhook   Webhook   `yaml:"webhook"`

	// dir is the directory of the loaded file; relative paths resolve
	// against it.
	dir string
}

// Naming configures environment identifiers.
type Naming struct {
	Prefix    string `yaml:"prefix,omitempty"`
	MaxLength int    `yaml:"maxLength,omitempty"`
}

// Template locates the base template and its overrides.
type Template struct {
	Path      string           `yaml:"path"`
	Overrides render.Overrides `yaml:"overrides,omitempty"`
}

// Kind names a Kubernetes resource kind.
type Kind struct {
	Group   string `yaml:"group,omitempty"`
	Version string `yaml:"version"`
	Kind    string `yaml:"kind"`
}

// GVK converts k.
func (k Kind) GVK() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: k.Group, Version: k.Version, Kind: k.Kind}
}

// Cluster configures access to the target cluster.
type Cluster struct {
	Kubeconfig     string `yaml:"kubeconfig,omitempty"`
	FieldManager   string `yaml:"fieldManager,omitempty"`
	DatabaseKind   *Kind  `yaml:"databaseKind,omitempty"`
	FinalizerKinds []Kind `yaml:"finalizerKinds,omitempty"`
}

// Exposure configures external addresses.
type Exposure struct {
	Provider ExposureProvider `yaml:"provider"`
	HCloud   HCloudExposure   `yaml:"hcloud,omitempty"`
}

// HCloudExposure configures Hetzner Cloud load balancers.
type HCloudExposure struct {
	Location         string `yaml:"location"`
	LoadBalancerType string `yaml:"loadBalancerType,omitempty"`
	TargetSelector   string `yaml:"targetSelector"`
	UsePrivateIP     bool   `yaml:"usePrivateIP,omitempty"`
}

// Migration configures the schema changesets run against each environment.
type Migration struct {
	// Host overrides the environment's external address.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
	User string `yaml:"user"`
	// Database defaults to the environment id.
	Database   string                `yaml:"database,omitempty"`
	SSLMode    string                `yaml:"sslMode,omitempty"`
	Changesets []migration.Changeset `yaml:"changesets"`
}

// State configures state persistence.
type State struct {
	Backend StateBackend `yaml:"backend"`
	S3      S3State      `yaml:"s3,omitempty"`
}

// S3State configures the S3 state backend. Credentials come from the
// environment.
type S3State struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	PathStyle bool   `yaml:"pathStyle,omitempty"`
}

// Lock configures run coordination.
type Lock struct {
	Backend LockBackend `yaml:"backend"`
	Redis   RedisLock   `yaml:"redis,omitempty"`
}

// RedisLock configures the Redis lock backend.
type RedisLock struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db,omitempty"`
}

// Webhook configures the trigger server.
type Webhook struct {
	Addr string `yaml:"addr,omitempty"`
}
