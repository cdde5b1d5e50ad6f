package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
	"github.com/itamarnascimento/shop-dash-catalogue/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	// OptionalChecks name dependencies the API can serve without, such as the cart cache.
	// Their failures stay visible in the report but do not change its status.
	OptionalChecks []string
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	optional   map[string]struct{}
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service backing the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	optional := make(map[string]struct{}, len(deps.OptionalChecks))
	for _, name := range deps.OptionalChecks {
		if name = strings.TrimSpace(name); name != "" {
			optional[name] = struct{}{}
		}
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		optional:   optional,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.clock()
	}
	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" || len(s.optional) > 0 {
		report.Status = s.deriveStatus(report.Checks)
	}
	return report, nil
}

func (s *systemService) deriveStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	status := domain.HealthStatusOK
	for name, check := range checks {
		if _, ok := s.optional[name]; ok {
			continue
		}
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
