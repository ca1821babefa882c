package s3backup

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/pdfshrink/pdfshrink/internal/pkg/env"
)

const DefaultArchivePrefix = "webhook-logs"

// ArchiveConfig describes where expired log partitions are uploaded.
type ArchiveConfig struct {
	Enabled bool
	Bucket  string
	Region  string
	// Endpoint switches to path-style addressing for S3-compatible services.
	Endpoint  string
	KeyID     string
	KeySecret string
	Prefix    string
}

// LoadArchiveConfig reads the archive settings from the environment.
// force enables archiving regardless of LOG_ARCHIVE_ENABLED.
func LoadArchiveConfig(force bool) (*ArchiveConfig, error) {
	cfg := &ArchiveConfig{
		Enabled:   force || env.GetBool("LOG_ARCHIVE_ENABLED", false),
		Bucket:    env.GetEnv("S3_BUCKET_NAME", ""),
		Region:    env.GetEnv("S3_REGION", "us-east-1"),
		Endpoint:  env.GetEnv("S3_ENDPOINT_URL", ""),
		KeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		KeySecret: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Prefix:    env.GetEnv("LOG_ARCHIVE_PREFIX", DefaultArchivePrefix),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing setting at once. A disabled archive is
// always valid.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	for key, val := range map[string]string{
		"S3_BUCKET_NAME":       c.Bucket,
		"S3_ACCESS_KEY_ID":     c.KeyID,
		"S3_SECRET_ACCESS_KEY": c.KeySecret,
	} {
		if val == "" {
			errs = append(errs, fmt.Errorf("%s is required for log archiving", key))
		}
	}
	return errors.Join(errs...)
}

// ObjectKey places a partition under <prefix>/YYYY/MM/<file>.
func (c *ArchiveConfig) ObjectKey(day time.Time, fileName string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return path.Join(prefix, day.UTC().Format("2006/01"), fileName)
}
