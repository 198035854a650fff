package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"transaction-api/internal/cache"
)

// Component status tokens, mirroring the actuator vocabulary used by the
// rest of the platform.
const (
	StatusUp       = "UP"
	StatusDown     = "DOWN"
	StatusDegraded = "DEGRADED"
	StatusUnknown  = "UNKNOWN"
)

type HealthChecker interface {
	CheckHealth(ctx context.Context) *HealthStatus
	RegisterCheck(checker ComponentChecker, required bool)
	GetComponentStatus(component string) *ComponentHealth
}

type ComponentChecker interface {
	Check(ctx context.Context) error
	Name() string
	Timeout() time.Duration
}

type HealthStatus struct {
	Status        string                      `json:"status"`
	Timestamp     time.Time                   `json:"timestamp"`
	UptimeSeconds float64                     `json:"uptimeSeconds"`
	Version       string                      `json:"version"`
	Components    map[string]*ComponentHealth `json:"components"`
	Summary       *HealthSummary              `json:"summary"`
}

type ComponentHealth struct {
	Status      string    `json:"status"`
	Required    bool      `json:"required"`
	LastChecked time.Time `json:"lastChecked"`
	DurationMs  int64     `json:"durationMs"`
	Error       string    `json:"error,omitempty"`
}

type HealthSummary struct {
	Total int `json:"total"`
	Up    int `json:"up"`
	Down  int `json:"down"`
}

type registration struct {
	checker  ComponentChecker
	required bool
}

type healthChecker struct {
	registrations []registration
	status        map[string]*ComponentHealth
	startTime     time.Time
	version       string
	metrics       MetricsService
	mutex         sync.RWMutex
}

// NewHealthChecker builds an aggregate checker. The overall status is UP only
// while every required component is UP; a failing optional component degrades
// the aggregate instead. Component outcomes are mirrored to the component_up
// gauge when metrics is non-nil.
func NewHealthChecker(version string, metrics MetricsService) HealthChecker {
	return &healthChecker{
		status:    make(map[string]*ComponentHealth),
		startTime: time.Now(),
		version:   version,
		metrics:   metrics,
	}
}

func (h *healthChecker) RegisterCheck(checker ComponentChecker, required bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.registrations = append(h.registrations, registration{checker: checker, required: required})
	h.status[checker.Name()] = &ComponentHealth{
		Status:   StatusUnknown,
		Required: required,
	}
}

func (h *healthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mutex.RLock()
	registrations := make([]registration, len(h.registrations))
	copy(registrations, h.registrations)
	h.mutex.RUnlock()

	results := make(map[string]*ComponentHealth, len(registrations))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, reg := range registrations {
		wg.Add(1)
		go func(reg registration) {
			defer wg.Done()
			health := checkComponent(ctx, reg.checker)
			health.Required = reg.required

			resultsMu.Lock()
			results[reg.checker.Name()] = health
			resultsMu.Unlock()
		}(reg)
	}
	wg.Wait()

	overall := StatusUp
	summary := &HealthSummary{Total: len(registrations)}
	for _, reg := range registrations {
		component := results[reg.checker.Name()]
		if component.Status == StatusUp {
			summary.Up++
			continue
		}
		summary.Down++
		if reg.required {
			overall = StatusDown
		} else if overall == StatusUp {
			overall = StatusDegraded
		}
	}

	h.mutex.Lock()
	for name, component := range results {
		h.status[name] = component
	}
	h.mutex.Unlock()

	if h.metrics != nil {
		for name, component := range results {
			h.metrics.SetComponentUp(name, component.Status == StatusUp)
		}
	}

	return &HealthStatus{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Version:       h.version,
		Components:    results,
		Summary:       summary,
	}
}

func checkComponent(ctx context.Context, checker ComponentChecker) *ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	start := time.Now()
	err := checker.Check(checkCtx)
	duration := time.Since(start)

	health := &ComponentHealth{
		Status:      StatusUp,
		LastChecked: time.Now().UTC(),
		DurationMs:  duration.Milliseconds(),
	}
	if err != nil {
		health.Status = StatusDown
		health.Error = err.Error()
	}
	return health
}

func (h *healthChecker) GetComponentStatus(component string) *ComponentHealth {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	status, exists := h.status[component]
	if !exists {
		return nil
	}
	copied := *status
	return &copied
}

// Built-in component checkers

// DatabaseChecker probes the primary store with an injected ping so the
// monitoring package stays driver-agnostic.
type DatabaseChecker struct {
	name  string
	probe func(ctx context.Context) error
}

func NewDatabaseChecker(name string, probe func(ctx context.Context) error) ComponentChecker {
	return &DatabaseChecker{name: name, probe: probe}
}

func (d *DatabaseChecker) Name() string {
	return d.name
}

func (d *DatabaseChecker) Timeout() time.Duration {
	return 5 * time.Second
}

func (d *DatabaseChecker) Check(ctx context.Context) error {
	if d.probe == nil {
		return fmt.Errorf("no probe configured for %s", d.name)
	}
	return d.probe(ctx)
}

// CacheChecker verifies Redis with a ping plus a full set/get/delete round
// trip, catching read-only replicas that still answer PING.
type CacheChecker struct {
	name  string
	cache cache.CacheService
}

func NewCacheChecker(name string, cacheService cache.CacheService) ComponentChecker {
	return &CacheChecker{name: name, cache: cacheService}
}

func (c *CacheChecker) Name() string {
	return c.name
}

func (c *CacheChecker) Timeout() time.Duration {
	return 3 * time.Second
}

func (c *CacheChecker) Check(ctx context.Context) error {
	if err := c.cache.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	key := "health:probe"
	written := time.Now().UTC().Format(time.RFC3339Nano)
	if err := c.cache.Set(ctx, key, written, 30*time.Second); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}

	var read string
	if err := c.cache.Get(ctx, key, &read); err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	if read != written {
		return fmt.Errorf("round trip mismatch: wrote %q, read %q", written, read)
	}

	if err := c.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// ExternalServiceChecker wraps a reachability probe for a remote dependency.
// The probe goes straight to the wire: no retry and no circuit breaker, so a
// down dependency is reported immediately.
type ExternalServiceChecker struct {
	name  string
	probe func(ctx context.Context) error
}

func NewExternalServiceChecker(name string, probe func(ctx context.Context) error) ComponentChecker {
	return &ExternalServiceChecker{name: name, probe: probe}
}

func (e *ExternalServiceChecker) Name() string {
	return e.name
}

func (e *ExternalServiceChecker) Timeout() time.Duration {
	return 5 * time.Second
}

func (e *ExternalServiceChecker) Check(ctx context.Context) error {
	if e.probe == nil {
		return fmt.Errorf("no probe configured for %s", e.name)
	}
	return e.probe(ctx)
}

// SelfChecker inspects the process itself: heap pressure, goroutine count
// and the transaction success rate since startup.
type SelfChecker struct {
	metrics MetricsService

	memoryPercentLimit float64
	goroutineLimit     int
	minSuccessRate     float64
	minSampleSize      int64
}

func NewSelfChecker(metrics MetricsService) ComponentChecker {
	return &SelfChecker{
		metrics:            metrics,
		memoryPercentLimit: 90,
		goroutineLimit:     10000,
		minSuccessRate:     0.90,
		minSampleSize:      20,
	}
}

func (s *SelfChecker) Name() string {
	return "self"
}

func (s *SelfChecker) Timeout() time.Duration {
	return 1 * time.Second
}

func (s *SelfChecker) Check(ctx context.Context) error {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	if memStats.Sys > 0 {
		usedPercent := float64(memStats.Alloc) / float64(memStats.Sys) * 100
		if usedPercent > s.memoryPercentLimit {
			return fmt.Errorf("memory usage %.1f%% exceeds %.1f%%", usedPercent, s.memoryPercentLimit)
		}
	}

	if goroutines := runtime.NumGoroutine(); goroutines > s.goroutineLimit {
		return fmt.Errorf("goroutine count %d exceeds %d", goroutines, s.goroutineLimit)
	}

	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		total := snap.CompletedTotal + snap.FailedTotal
		if total >= s.minSampleSize {
			rate := float64(snap.CompletedTotal) / float64(total)
			if rate < s.minSuccessRate {
				return fmt.Errorf("success rate %.2f below %.2f over %d transactions", rate, s.minSuccessRate, total)
			}
		}
	}
	return nil
}
