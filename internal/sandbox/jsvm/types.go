package jsvm

import "time"

// Config defines JavaScript sandbox configuration
type Config struct {
	ScriptTimeout    time.Duration // Bound on one script run or REPL evaluation
	PoolSize         int           // Warm runtimes kept ready
	AcquireTimeout   time.Duration // Bound on waiting for a free runtime
	MaxCallStackSize int           // goja call stack limit
}

// DefaultConfig returns the default sandbox configuration
func DefaultConfig() Config {
	return Config{
		ScriptTimeout:    5 * time.Second,
		PoolSize:         4,
		AcquireTimeout:   5 * time.Second,
		MaxCallStackSize: 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = d.ScriptTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.MaxCallStackSize <= 0 {
		c.MaxCallStackSize = d.MaxCallStackSize
	}
	return c
}

// packageJSON is the subset of package.json the install step understands
type packageJSON struct {
	Name            string            `json:"name"`
	Main            string            `json:"main"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}
