package config

import "os"

// Secrets are credentials read from the environment only.
type Secrets struct {
	HCloudToken   string
	S3AccessKey   string
	S3SecretKey   string
	DBPassword    string
	RedisPassword string
	WebhookSecret string
}

// LoadSecrets reads credentials from environment variables.
//
// Environment Variables:
//   - HCLOUD_TOKEN
//   - BRANCHENV_S3_ACCESS_KEY, BRANCHENV_S3_SECRET_KEY
//   - BRANCHENV_DB_PASSWORD
//   - BRANCHENV_REDIS_PASSWORD
//   - BRANCHENV_WEBHOOK_SECRET
func LoadSecrets() Secrets {
	return Secrets{
		HCloudToken:   os.Getenv("HCLOUD_TOKEN"),
		S3AccessKey:   os.Getenv("BRANCHENV_S3_ACCESS_KEY"),
		S3SecretKey:   os.Getenv("BRANCHENV_S3_SECRET_KEY"),
		DBPassword:    os.Getenv("BRANCHENV_DB_PASSWORD"),
		RedisPassword: os.Getenv("BRANCHENV_REDIS_PASSWORD"),
		WebhookSecret: os.Getenv("BRANCHENV_WEBHOOK_SECRET"),
	}
}

// Missing lists the variables cfg needs that are not set.
func (s Secrets) Missing(cfg *Config) []string {
	var missing []string
	if cfg.Exposure.Provider == ExposureHCloud && s.HCloudToken == "" {
		missing = append(missing, "HCLOUD_TOKEN")
	}
	if cfg.State.Backend == StateS3 {
		if s.S3AccessKey == "" {
			missing = append(missing, "BRANCHENV_S3_ACCESS_KEY")
		}
		if s.S3SecretKey == "" {
			missing = append(missing, "BRANCHENV_S3_SECRET_KEY")
		}
	}
	return missing
}
