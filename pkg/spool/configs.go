package spool

import "time"

const (
	// DefaultIdleTimeoutInterval is how long (ms) an unreferenced connection stays pooled.
	DefaultIdleTimeoutInterval = 180000

	// DefaultConnectTimeoutInterval bounds (ms) a single shared connect.
	DefaultConnectTimeoutInterval = 10000

	// DefaultMaxAcquireAttempts bounds how often Acquire retries when a fresh connection dies before it is retained.
	DefaultMaxAcquireAttempts = 3
)

// Seasoning represents the configuration values.
type Seasoning struct {
	PoolConfig  *PoolConfig                  `json:"PoolConfig" yaml:"PoolConfig"`
	Credentials map[string]*CredentialConfig `json:"Credentials" yaml:"Credentials"`
}

// PoolConfig represents settings for creating/configuring the pool.
type PoolConfig struct {
	ApplicationName        string `json:"ApplicationName" yaml:"ApplicationName"`
	IdleTimeoutInterval    uint32 `json:"IdleTimeoutInterval" yaml:"IdleTimeoutInterval"`       // ms an idle connection is kept
	ConnectTimeoutInterval uint32 `json:"ConnectTimeoutInterval" yaml:"ConnectTimeoutInterval"` // ms a connect may take
	MaxAcquireAttempts     uint32 `json:"MaxAcquireAttempts" yaml:"MaxAcquireAttempts"`
}

// CredentialConfig describes one named credential. The logical key defaults to the credential name.
// Options from EnvFile are loaded first, inline Options override them.
type CredentialConfig struct {
	LogicalKey string     `json:"LogicalKey" yaml:"LogicalKey"`
	EnvFile    string     `json:"EnvFile" yaml:"EnvFile"`
	Options    RawOptions `json:"Options" yaml:"Options"`
}

// DefaultPoolConfig returns a PoolConfig with the default intervals.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		IdleTimeoutInterval:    DefaultIdleTimeoutInterval,
		ConnectTimeoutInterval: DefaultConnectTimeoutInterval,
		MaxAcquireAttempts:     DefaultMaxAcquireAttempts,
	}
}

func (pc *PoolConfig) idleTimeout() time.Duration {
	if pc.IdleTimeoutInterval == 0 {
		return time.Duration(DefaultIdleTimeoutInterval) * time.Millisecond
	}
	return time.Duration(pc.IdleTimeoutInterval) * time.Millisecond
}

func (pc *PoolConfig) connectTimeout() time.Duration {
	if pc.ConnectTimeoutInterval == 0 {
		return time.Duration(DefaultConnectTimeoutInterval) * time.Millisecond
	}
	return time.Duration(pc.ConnectTimeoutInterval) * time.Millisecond
}

func (pc *PoolConfig) maxAcquireAttempts() int {
	if pc.MaxAcquireAttempts == 0 {
		return DefaultMaxAcquireAttempts
	}
	return int(pc.MaxAcquireAttempts)
}
