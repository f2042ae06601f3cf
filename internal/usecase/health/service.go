// Package health aggregates collaborator checks for the /health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates a non-critical component is failing; answers may be degraded.
	Degraded Status = "degraded"
	// Unhealthy indicates a critical component is failing.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const defaultTimeout = 2 * time.Second

// Check is one named component.
type Check struct {
	Name    string
	Checker Checker
	// Critical failures make the service Unhealthy instead of Degraded.
	Critical bool
}

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	checks  []Check
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Service. Checks with a nil Checker are skipped.
func New(logger *zap.Logger, checks ...Check) *Service {
	kept := make([]Check, 0, len(checks))
	for _, c := range checks {
		if c.Checker != nil {
			kept = append(kept, c)
		}
	}
	return &Service{checks: kept, timeout: defaultTimeout, logger: logger}
}

// Check runs every check concurrently, each bounded by the per-check timeout.
func (s *Service) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(s.checks))

	var wg sync.WaitGroup
	for i, c := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			if err := c.Checker.HealthCheck(cctx); err != nil {
				s.logger.Warn("Health check failed", zap.String("component", c.Name), zap.Error(err))
				results[i] = CheckError
				return
			}
			results[i] = CheckOK
		}()
	}
	wg.Wait()

	report := Report{Status: Healthy, Checks: make(map[string]CheckResult, len(s.checks))}
	for i, c := range s.checks {
		report.Checks[c.Name] = results[i]
		if results[i] != CheckError {
			continue
		}
		if c.Critical {
			report.Status = Unhealthy
		} else if report.Status == Healthy {
			report.Status = Degraded
		}
	}
	return report
}
