// Package config describes how to reach one COPC file and how to work on it, and reads that
// description from JSON files or loosely typed attribute maps.
package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/copc/balance"
	"go.viam.com/copc/rangefetch"
	"go.viam.com/copc/utils"
)

// Transport names.
const (
	TransportS3   = "s3"
	TransportHTTP = "http"
	TransportFile = "file"
)

// Hierarchy load modes.
const (
	HierarchyRoot = "root"
	HierarchyFull = "full"
)

// Defaults applied to unset fields.
const (
	DefaultS3Endpoint  = "s3.amazonaws.com"
	DefaultConcurrency = 4
	DefaultThreshold   = 100000
	DefaultCacheSize   = 64
)

var (
	transports  = []string{TransportS3, TransportHTTP, TransportFile}
	hierarchies = []string{HierarchyRoot, HierarchyFull}
)

// Config is the description of a session.
type Config struct {
	Transport       string `json:"transport"`
	Endpoint        string `json:"endpoint,omitempty"`
	Region          string `json:"region,omitempty"`
	Secure          *bool  `json:"secure,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	Bucket          string `json:"bucket,omitempty"`
	Key             string `json:"key"`

	// MirrorPath is where the local mirror file is created. Empty keeps the mirror in memory.
	MirrorPath  string       `json:"mirror_path,omitempty"`
	Concurrency int          `json:"concurrency,omitempty"`
	Threshold   int64        `json:"threshold,omitempty"`
	Metric      string       `json:"metric,omitempty"`
	Hierarchy   string       `json:"hierarchy,omitempty"`
	CacheSize   int          `json:"cache_size,omitempty"`
	Retry       *RetryConfig `json:"retry,omitempty"`

	// ConfigFilePath is the file this config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// RetryConfig opts fetches into exponential backoff.
type RetryConfig struct {
	MaxAttempts   int `json:"max_attempts"`
	InitialWaitMs int `json:"initial_wait_ms,omitempty"`
	MaxWaitMs     int `json:"max_wait_ms,omitempty"`
}

// Validate ensures all parts of the config are valid. Errors name the offending field under path.
func (c *Config) Validate(path string) error {
	if c.Transport == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "transport")
	}
	if !lo.Contains(transports, c.Transport) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown transport %q, expected one of %v", c.Transport, transports))
	}
	if c.Key == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "key")
	}
	if c.Transport == TransportS3 && c.Bucket == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "bucket")
	}
	// For files the endpoint is the root directory.
	if c.Transport == TransportFile && c.Endpoint == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "endpoint")
	}
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "secret_access_key")
	}
	if c.Concurrency < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("concurrency %d is negative", c.Concurrency))
	}
	if c.Threshold < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("threshold %d is negative", c.Threshold))
	}
	if c.CacheSize < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("cache_size %d is negative", c.CacheSize))
	}
	if c.Metric != "" {
		if _, err := balance.ParseMetric(c.Metric); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if c.Hierarchy != "" && !lo.Contains(hierarchies, c.Hierarchy) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("unknown hierarchy mode %q, expected one of %v", c.Hierarchy, hierarchies))
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(fmt.Sprintf("%s.retry", path)); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures the retry settings are usable.
func (rc *RetryConfig) Validate(path string) error {
	if rc.MaxAttempts < 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("max_attempts must be at least 1, got %d", rc.MaxAttempts))
	}
	if rc.InitialWaitMs < 0 || rc.MaxWaitMs < 0 {
		return utils.NewConfigValidationError(path, errors.New("waits cannot be negative"))
	}
	return nil
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.Transport == TransportS3 && c.Endpoint == "" {
		c.Endpoint = DefaultS3Endpoint
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Metric == "" {
		c.Metric = balance.PointCount.String()
	}
	if c.Hierarchy == "" {
		c.Hierarchy = HierarchyRoot
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
}

// IsSecure reports whether the S3 endpoint is reached over TLS. Unset means yes.
func (c *Config) IsSecure() bool {
	return c.Secure == nil || *c.Secure
}

// ParsedMetric returns the balance metric, defaulting to point count.
func (c *Config) ParsedMetric() (balance.Metric, error) {
	if c.Metric == "" {
		return balance.PointCount, nil
	}
	return balance.ParseMetric(c.Metric)
}

// S3Options returns the options for an S3 transport.
func (c *Config) S3Options() rangefetch.S3Options {
	return rangefetch.S3Options{
		Endpoint:        c.Endpoint,
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		Secure:          c.IsSecure(),
	}
}

// RetryOptions returns the retry options, or false if retrying is off.
func (c *Config) RetryOptions() (rangefetch.RetryOptions, bool) {
	if c.Retry == nil {
		return rangefetch.RetryOptions{}, false
	}
	return rangefetch.RetryOptions{
		MaxAttempts: c.Retry.MaxAttempts,
		InitialWait: time.Duration(c.Retry.InitialWaitMs) * time.Millisecond,
		MaxWait:     time.Duration(c.Retry.MaxWaitMs) * time.Millisecond,
	}, true
}
