package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	ID            string
}

type Component string

const (
	ComponentRedis  Component = "redis"
	ComponentDB     Component = "db"
	ComponentLedger Component = "ledger"
)

type CheckFunc func(context.Context) error

type CheckResult struct {
	Timestamp time.Time `json:"timestamp"`
	Result    bool      `json:"result"`
}

type HealthChecks map[Component]CheckResult

type HealthStatus struct {
	Healthy bool         `json:"healthy"`
	Checks  HealthChecks `json:"checks"`
}

type Checker struct {
	config  *Config
	probes  map[Component]CheckFunc
	results HealthChecks
	mu      sync.RWMutex
	log     *slog.Logger
}

func NewChecker(config *Config) *Checker {
	return &Checker{
		config:  config,
		probes:  map[Component]CheckFunc{},
		results: HealthChecks{},
		log:     slog.With("pod", config.ID, "component", "health"),
	}
}

// Register adds a dependency check. If this code runs, the dependency was
// reachable at startup, so it starts out healthy.
func (c *Checker) Register(component Component, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probes[component] = check
	c.results[component] = CheckResult{Timestamp: time.Now(), Result: true}
}

func (c *Checker) Run(ctx context.Context) {
	c.log.Debug("Starting the health checker...")

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug("Stopping health checker ...")
			return
		case <-ticker.C:
			c.CheckNow(ctx)
		}
	}
}

// CheckNow runs every registered check once.
func (c *Checker) CheckNow(ctx context.Context) {
	c.mu.RLock()
	probes := make(map[Component]CheckFunc, len(c.probes))
	for k, v := range c.probes {
		probes[k] = v
	}
	c.mu.RUnlock()

	for component, check := range probes {
		checkCtx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
		err := check(checkCtx)
		cancel()

		if err != nil {
			c.log.Warn("Component health check failed", "component", component, "error", err)
		}

		c.mu.Lock()
		c.results[component] = CheckResult{Timestamp: time.Now(), Result: err == nil}
		c.mu.Unlock()
	}
}

func (c *Checker) GetHealthStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := true
	checks := make(HealthChecks, len(c.results))

	for component, check := range c.results {
		checks[component] = check
		if !check.Result {
			healthy = false
		}
	}

	return HealthStatus{
		Healthy: healthy,
		Checks:  checks,
	}
}
