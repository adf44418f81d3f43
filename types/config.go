package types

import "github.com/langgraph-go/stategraph/constants"

// RunnableConfig represents configuration for one graph invocation.
type RunnableConfig struct {
	// Configurable values readable by nodes through the runtime.
	Configurable map[string]any

	// RecursionLimit is the maximum number of super-steps before raising
	// GraphRecursionError. Zero uses the limit the graph was compiled with.
	RecursionLimit int

	// MaxConcurrency bounds how many nodes of one super-step run at once. Zero means unbounded.
	MaxConcurrency int

	// Tags label the run's span and are stored under "tags" in every
	// checkpoint the run writes.
	Tags []string

	// Metadata is copied into every checkpoint written by the run. The
	// "source", "run_id" and "tags" entries are reserved.
	Metadata map[string]any

	// RunID is a unique identifier for this run
	RunID string

	// ThreadID is the thread identifier for checkpointing
	ThreadID string
}

// NewRunnableConfig creates a new RunnableConfig with defaults.
func NewRunnableConfig() *RunnableConfig {
	return &RunnableConfig{
		Configurable: make(map[string]any),
		Metadata:     make(map[string]any),
	}
}

// Get gets a value from the configurable map.
func (c *RunnableConfig) Get(key string) (any, bool) {
	if c == nil || c.Configurable == nil {
		return nil, false
	}
	val, ok := c.Configurable[key]
	return val, ok
}

// GetString returns a configurable string value, or "" when absent.
func (c *RunnableConfig) GetString(key string) string {
	v, _ := c.Get(key)
	s, _ := v.(string)
	return s
}

// Set sets a value in the configurable map.
func (c *RunnableConfig) Set(key string, value any) {
	if c.Configurable == nil {
		c.Configurable = make(map[string]any)
	}
	c.Configurable[key] = value
}

// Thread returns the thread id, falling back to configurable["thread_id"].
func (c *RunnableConfig) Thread() string {
	if c == nil {
		return ""
	}
	if c.ThreadID != "" {
		return c.ThreadID
	}
	return c.GetString(constants.ConfigKeyThreadID)
}

// UserID returns configurable["user_id"], used to namespace long-lived memory.
func (c *RunnableConfig) UserID() string {
	return c.GetString(constants.ConfigKeyUserID)
}

// Merge merges another config into this one.
func (c *RunnableConfig) Merge(other *RunnableConfig) *RunnableConfig {
	if other == nil {
		return c
	}
	for k, v := range other.Configurable {
		c.Set(k, v)
	}
	if other.RecursionLimit > 0 {
		c.RecursionLimit = other.RecursionLimit
	}
	if other.MaxConcurrency > 0 {
		c.MaxConcurrency = other.MaxConcurrency
	}
	c.Tags = append(c.Tags, other.Tags...)
	if len(other.Metadata) > 0 && c.Metadata == nil {
		c.Metadata = make(map[string]any, len(other.Metadata))
	}
	for k, v := range other.Metadata {
		c.Metadata[k] = v
	}
	if other.RunID != "" {
		c.RunID = other.RunID
	}
	if other.ThreadID != "" {
		c.ThreadID = other.ThreadID
	}
	return c
}

// WithConfigurable returns the config with the given configurable values.
func (c *RunnableConfig) WithConfigurable(configurable map[string]any) *RunnableConfig {
	c.Configurable = configurable
	return c
}

// WithRecursionLimit returns the config with the given recursion limit.
func (c *RunnableConfig) WithRecursionLimit(limit int) *RunnableConfig {
	c.RecursionLimit = limit
	return c
}

// WithMaxConcurrency returns the config with the given per-step concurrency bound.
func (c *RunnableConfig) WithMaxConcurrency(n int) *RunnableConfig {
	c.MaxConcurrency = n
	return c
}

// WithTags returns the config with the given tags.
func (c *RunnableConfig) WithTags(tags ...string) *RunnableConfig {
	c.Tags = tags
	return c
}

// WithMetadata returns the config with the given metadata.
func (c *RunnableConfig) WithMetadata(metadata map[string]any) *RunnableConfig {
	c.Metadata = metadata
	return c
}

// WithRunID returns the config with the given run ID.
func (c *RunnableConfig) WithRunID(runID string) *RunnableConfig {
	c.RunID = runID
	return c
}

// WithThreadID returns the config with the given thread ID.
func (c *RunnableConfig) WithThreadID(threadID string) *RunnableConfig {
	c.ThreadID = threadID
	return c
}

// WithUserID returns the config with configurable["user_id"] set.
func (c *RunnableConfig) WithUserID(userID string) *RunnableConfig {
	c.Set(constants.ConfigKeyUserID, userID)
	return c
}

// EnsureConfig ensures a config is not nil.
func EnsureConfig(config *RunnableConfig) *RunnableConfig {
	if config == nil {
		return NewRunnableConfig()
	}
	return config
}

// MergeConfigs merges multiple configs into a fresh one.
func MergeConfigs(configs ...*RunnableConfig) *RunnableConfig {
	result := NewRunnableConfig()
	for _, config := range configs {
		result.Merge(config)
	}
	return result
}
