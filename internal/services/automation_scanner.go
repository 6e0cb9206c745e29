package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"complyhub/internal/metrics"
	"complyhub/internal/models"
	"complyhub/internal/store"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Scan kinds, also used as scan cursor keys.
const (
	ScanCertificateExpiration = "certificate_expiration"
	ScanOverdueTasks          = "overdue_tasks"
)

// DefaultCertificateLookahead is the expiring window of the certificate scanner.
const DefaultCertificateLookahead = 30 * 24 * time.Hour

// ScannerDeps are shared by both scanners.
type ScannerDeps struct {
	Store  store.Store
	Engine TriggerExecutor
	// Watermark is optional. Without it scanners refire for every qualifying
	// record on every run.
	Watermark         FireWatermark
	DedupWindow       time.Duration
	TenantConcurrency int
	Logger            *logrus.Logger
	Now               func() time.Time
}

// ScanResult summarises one tenant sweep.
type ScanResult struct {
	TenantID   string `json:"tenant_id"`
	Kind       string `json:"kind"`
	Matched    int    `json:"matched"`
	Fired      int    `json:"fired"`
	Suppressed int    `json:"suppressed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

// scanCandidate is one qualifying record turned into a context.
type scanCandidate struct {
	resourceID string
	tenantID   string
	actx       AutomationContext
}

type collectFunc func(ctx context.Context, tenantID string, now time.Time) ([]scanCandidate, error)

// PeriodicScanner re-derives the qualifying records of a tenant from current
// data and fires one trigger per record.
type PeriodicScanner struct {
	kind    string
	trigger models.TriggerKind
	collect collectFunc
	deps    ScannerDeps
	tracer  trace.Tracer
}

func newPeriodicScanner(kind string, trigger models.TriggerKind, deps ScannerDeps) *PeriodicScanner {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TenantConcurrency <= 0 {
		deps.TenantConcurrency = 4
	}
	if deps.DedupWindow <= 0 {
		deps.DedupWindow = 24 * time.Hour
	}
	return &PeriodicScanner{kind: kind, trigger: trigger, deps: deps, tracer: otel.Tracer("complyhub.scanner")}
}

// NewCertificateExpirationScanner fires certificate_expiring for every
// certificate with expiresAt in [now, now+lookahead]. Already expired
// certificates are not reported.
func NewCertificateExpirationScanner(deps ScannerDeps, lookahead time.Duration) *PeriodicScanner {
	if lookahead <= 0 {
		lookahead = DefaultCertificateLookahead
	}
	s := newPeriodicScanner(ScanCertificateExpiration, models.TriggerCertificateExpiring, deps)
	s.collect = func(ctx context.Context, tenantID string, now time.Time) ([]scanCandidate, error) {
		certs, err := s.deps.Store.ListExpiringCertificates(ctx, tenantID, now, now.Add(lookahead))
		if err != nil {
			return nil, err
		}
		emails := s.memberEmails(ctx, tenantID, len(certs))
		out := make([]scanCandidate, 0, len(certs))
		for _, c := range certs {
			out = append(out, scanCandidate{
				resourceID: c.ID,
				tenantID:   c.TenantID,
				actx: AutomationContext{
					TenantID:    tenantID,
					ActorUserID: c.OwnerID,
					ActorEmail:  emails[c.OwnerID],
					Resource:    CertificateResource(c),
					Metadata: map[string]interface{}{
						"daysUntilExpiry": int(c.ExpiresAt.Sub(now).Hours() / 24),
						"scan":            ScanCertificateExpiration,
					},
				},
			})
		}
		return out, nil
	}
	return s
}

// NewOverdueTaskScanner fires task_overdue for every pending task whose due
// date has passed.
func NewOverdueTaskScanner(deps ScannerDeps) *PeriodicScanner {
	s := newPeriodicScanner(ScanOverdueTasks, models.TriggerTaskOverdue, deps)
	s.collect = func(ctx context.Context, tenantID string, now time.Time) ([]scanCandidate, error) {
		tasks, err := s.deps.Store.ListOverdueTasks(ctx, tenantID, now)
		if err != nil {
			return nil, err
		}
		emails := s.memberEmails(ctx, tenantID, len(tasks))
		out := make([]scanCandidate, 0, len(tasks))
		for _, t := range tasks {
			daysOverdue := 0
			if t.DueDate != nil {
				daysOverdue = int(now.Sub(*t.DueDate).Hours() / 24)
			}
			out = append(out, scanCandidate{
				resourceID: t.ID,
				tenantID:   t.TenantID,
				actx: AutomationContext{
					TenantID:    tenantID,
					ActorUserID: t.AssignedTo,
					ActorEmail:  emails[t.AssignedTo],
					Resource:    TaskResource(t),
					Metadata: map[string]interface{}{
						"daysOverdue": daysOverdue,
						"scan":        ScanOverdueTasks,
					},
				},
			})
		}
		return out, nil
	}
	return s
}

func (s *PeriodicScanner) Kind() string { return s.kind }

// memberEmails loads the tenant roster once per sweep, keyed by user id.
func (s *PeriodicScanner) memberEmails(ctx context.Context, tenantID string, matched int) map[string]string {
	emails := make(map[string]string)
	if matched == 0 {
		return emails
	}
	members, err := s.deps.Store.ListMembers(ctx, tenantID)
	if err != nil {
		s.deps.Logger.Warnf("scanner %s: member lookup failed: %v", s.kind, err)
		return emails
	}
	for _, m := range members {
		emails[m.UserID] = m.Email
	}
	return emails
}

// Scan sweeps one tenant. A failing firing never aborts the batch.
func (s *PeriodicScanner) Scan(ctx context.Context, tenantID string) (ScanResult, error) {
	res := ScanResult{TenantID: tenantID, Kind: s.kind}
	if tenantID == "" {
		return res, ErrMissingTenant
	}
	ctx, span := s.tracer.Start(ctx, "automation.scan")
	defer span.End()
	span.SetAttributes(attribute.String("scan.kind", s.kind), attribute.String("scan.tenant_id", tenantID))

	now := s.deps.Now().UTC()
	candidates, err := s.collect(ctx, tenantID, now)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("scan %s for tenant %s: %w", s.kind, tenantID, err)
	}
	res.Matched = len(candidates)
	log := s.deps.Logger.WithFields(logrus.Fields{"scan": s.kind, "tenant_id": tenantID})

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.tenantID != tenantID {
			res.Skipped++
			log.WithField("security", true).Errorf("scanner: record %s belongs to tenant %s, skipped", c.resourceID, c.tenantID)
			continue
		}
		key := WatermarkKey(tenantID, string(s.trigger), c.resourceID)
		claimed := false
		if s.deps.Watermark != nil {
			ok, err := s.deps.Watermark.Claim(ctx, key, s.deps.DedupWindow)
			switch {
			case err != nil:
				// duplicates are harmless, a missed reminder is not
				log.Warnf("scanner: watermark unavailable, firing anyway: %v", err)
			case !ok:
				res.Suppressed++
				continue
			default:
				claimed = true
			}
		}
		report := s.deps.Engine.ExecuteTrigger(ctx, s.trigger, c.actx)
		if report.Error != "" {
			res.Failed++
			log.Warnf("scanner: firing for %s failed: %s", c.resourceID, report.Error)
			if claimed {
				if err := s.deps.Watermark.Release(ctx, key); err != nil {
					log.Errorf("scanner: release watermark %s: %v", key, err)
				}
			}
			continue
		}
		res.Fired++
	}

	if err := s.deps.Store.SaveScanCursor(ctx, &models.ScanCursor{
		TenantID:      tenantID,
		ScanKind:      s.kind,
		LastScannedAt: now,
		LastMatched:   res.Matched,
		UpdatedAt:     now,
	}); err != nil {
		log.Warnf("scanner: save cursor failed: %v", err)
	}
	metrics.IncScanRun(s.kind)
	span.SetAttributes(attribute.Int("scan.matched", res.Matched), attribute.Int("scan.fired", res.Fired))
	log.WithFields(logrus.Fields{"matched": res.Matched, "fired": res.Fired, "suppressed": res.Suppressed, "failed": res.Failed}).Info("scan completed")
	return res, nil
}

// ScanAll sweeps every tenant with bounded concurrency. Per-tenant errors are
// joined; they do not stop other tenants.
func (s *PeriodicScanner) ScanAll(ctx context.Context) ([]ScanResult, error) {
	tenants, err := s.deps.Store.ListTenantIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan %s: list tenants: %w", s.kind, err)
	}

	var (
		mu      sync.Mutex
		results = make([]ScanResult, 0, len(tenants))
		errs    []error
	)
	var g errgroup.Group
	g.SetLimit(s.deps.TenantConcurrency)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			res, err := s.Scan(ctx, tenantID)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if err != nil {
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// CertificateResource is the context resource synthesised for a certificate.
func CertificateResource(c models.Certificate) map[string]interface{} {
	return map[string]interface{}{
		"id":         c.ID,
		"tenant_id":  c.TenantID,
		"name":       c.Name,
		"issuer":     c.Issuer,
		"status":     c.Status,
		"owner_id":   c.OwnerID,
		"expires_at": c.ExpiresAt.Format(time.RFC3339),
	}
}

// TaskResource is the context resource synthesised for a task.
func TaskResource(t models.Task) map[string]interface{} {
	r := map[string]interface{}{
		"id":          t.ID,
		"tenant_id":   t.TenantID,
		"title":       t.Title,
		"status":      t.Status,
		"priority":    t.Priority,
		"assigned_to": t.AssignedTo,
		"created_by":  t.CreatedBy,
	}
	if t.DueDate != nil {
		r["due_date"] = t.DueDate.Format(time.RFC3339)
	}
	return r
}
