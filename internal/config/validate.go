package config

import (
	"errors"
	"fmt"

	"github.com/imamik/branchenv/internal/migration"
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Naming.MaxLength < 0 || c.Naming.MaxLength > 63 {
		errs = append(errs, errors.New("naming.maxLength must be at most 63"))
	}
	if c.Template.Path == "" {
		errs = append(errs, errors.New("template.path is required"))
	}
	for i, p := range c.Template.Overrides.Patches {
		if p.Target.Kind == "" || p.Target.Name == "" {
			errs = append(errs, fmt.Errorf("template.overrides.patches[%d].target needs kind and name", i))
		}
	}

	if k := c.Cluster.DatabaseKind; k != nil && (k.Version == "" || k.Kind == "") {
		errs = append(errs, errors.New("cluster.databaseKind needs version and kind"))
	}
	for i, k := range c.Cluster.FinalizerKinds {
		if k.Version == "" || k.Kind == "" {
			errs = append(errs, fmt.Errorf("cluster.finalizerKinds[%d] needs version and kind", i))
		}
	}

	switch c.Exposure.Provider {
	case ExposureKubernetes:
	case ExposureHCloud:
		if c.Exposure.HCloud.Location == "" {
			errs = append(errs, errors.New("exposure.hcloud.location is required"))
		}
		if c.Exposure.HCloud.TargetSelector == "" {
			errs = append(errs, errors.New("exposure.hcloud.targetSelector is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("exposure.provider must be one of: %s, %s", ExposureKubernetes, ExposureHCloud))
	}

	if c.Migration.Port < 1 || c.Migration.Port > 65535 {
		errs = append(errs, errors.New("migration.port must be 1-65535"))
	}
	if len(c.Migration.Changesets) > 0 && c.Migration.User == "" {
		errs = append(errs, errors.New("migration.user is required when changesets are configured"))
	}
	if err := migration.Validate(c.Migration.Changesets); err != nil {
		errs = append(errs, fmt.Errorf("migration.changesets: %w", err))
	}

	switch c.State.Backend {
	case StateMemory:
	case StateS3:
		if c.State.S3.Bucket == "" {
			errs = append(errs, errors.New("state.s3.bucket is required"))
		}
		if c.State.S3.Region == "" {
			errs = append(errs, errors.New("state.s3.region is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("state.backend must be one of: %s, %s", StateMemory, StateS3))
	}

	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.Redis.Addr == "" {
			errs = append(errs, errors.New("lock.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend must be one of: %s, %s", LockLocal, LockRedis))
	}

	return errors.Join(errs...)
}
