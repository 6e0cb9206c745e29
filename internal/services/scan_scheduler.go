package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}

// ErrUnknownScanner is returned by RunNow for a kind that was never scheduled.
var ErrUnknownScanner = errors.New("unknown scanner")

// ScanScheduler runs scanners on cron schedules, off the request path.
// A scan still running when its next tick arrives is skipped.
type ScanScheduler struct {
	cron     *cron.Cron
	logger   *logrus.Logger
	timeout  time.Duration
	scanners map[string]*PeriodicScanner
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScanScheduler 创建扫描调度器；timeout 限制单次全租户扫描时长
func NewScanScheduler(logger *logrus.Logger, timeout time.Duration) *ScanScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &ScanScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:   logger,
		timeout:  timeout,
		scanners: make(map[string]*PeriodicScanner),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add schedules scanner with a standard cron spec or descriptor ("@every 1h").
func (s *ScanScheduler) Add(spec string, scanner *PeriodicScanner) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(scanner) }); err != nil {
		return fmt.Errorf("schedule %s %q: %w", scanner.Kind(), spec, err)
	}
	s.scanners[scanner.Kind()] = scanner
	s.logger.Infof("scanner %s scheduled (%s)", scanner.Kind(), spec)
	return nil
}

func (s *ScanScheduler) run(scanner *PeriodicScanner) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	results, err := scanner.ScanAll(ctx)
	if err != nil {
		s.logger.Errorf("scanner %s: %v", scanner.Kind(), err)
	}
	fired := 0
	for _, r := range results {
		fired += r.Fired
	}
	s.logger.Infof("scanner %s swept %d tenants, fired %d", scanner.Kind(), len(results), fired)
}

// AddJob schedules a housekeeping job under the same timeout and skip rules.
func (s *ScanScheduler) AddJob(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Errorf("job %s: %v", name, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

// RunNow sweeps all tenants with the named scanner synchronously.
func (s *ScanScheduler) RunNow(ctx context.Context, kind string) ([]ScanResult, error) {
	scanner, ok := s.scanners[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScanner, kind)
	}
	return scanner.ScanAll(ctx)
}

func (s *ScanScheduler) Start() { s.cron.Start() }

// Stop cancels running scans and waits for them, bounded by ctx.
func (s *ScanScheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scan scheduler stop timed out")
	}
}
