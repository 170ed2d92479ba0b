package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/anatech/leadscout/services"
	"github.com/sirupsen/logrus"
)

// CleanupReport counts what one cleanup run removed.
type CleanupReport struct {
	Dismissals   int64 `json:"dismissals"`
	OTPCodes     int64 `json:"otp_codes"`
	FetchResults int   `json:"fetch_results"`
}

// CleanupJob purges expired dismissal markers, one-time codes and cached
// fetch results. Expiry is already enforced on read; this only reclaims space.
type CleanupJob struct {
	Leads   services.LeadStore
	Users   services.UserStore
	Results *services.ResultCache
	now     func() time.Time
	running atomic.Bool
}

func NewCleanupJob(leads services.LeadStore, users services.UserStore, results *services.ResultCache) *CleanupJob {
	return &CleanupJob{Leads: leads, Users: users, Results: results, now: time.Now}
}

func (j *CleanupJob) Run(ctx context.Context) (CleanupReport, error) {
	logrus.WithField("component", "CleanupJob").Info("Starting cleanup job")
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	var report CleanupReport
	now := j.now()

	if j.Leads != nil {
		purged, err := j.Leads.PurgeExpiredDismissals(ctx, now)
		if err != nil {
			return report, err
		}
		report.Dismissals = purged
	}

	if j.Users != nil {
		purged, err := j.Users.PurgeExpiredOTPs(ctx, now)
		if err != nil {
			return report, err
		}
		report.OTPCodes = purged
	}

	if j.Results != nil {
		report.FetchResults = j.Results.PurgeExpired()
	}

	logrus.WithFields(logrus.Fields{
		"component":     "CleanupJob",
		"dismissals":    report.Dismissals,
		"otp_codes":     report.OTPCodes,
		"fetch_results": report.FetchResults,
	}).Info("Cleanup job completed")
	return report, nil
}

// IsRunning reports whether a run is in progress.
func (j *CleanupJob) IsRunning() bool {
	return j.running.Load()
}

// RunOnce runs the job unless a run is already in progress, in which case it
// reports skipped.
func (j *CleanupJob) RunOnce(ctx context.Context) (report CleanupReport, skipped bool, err error) {
	if !j.running.CompareAndSwap(false, true) {
		logrus.WithField("component", "CleanupJob").Warn("Cleanup job already running, skipping")
		return CleanupReport{}, true, nil
	}
	defer j.running.Store(false)

	report, err = j.Run(ctx)
	return report, false, err
}

// Start runs the job every interval until ctx is cancelled.
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	logrus.WithFields(logrus.Fields{
		"component": "CleanupJob",
		"interval":  interval,
	}).Info("Starting periodic cleanup")

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, _, err := j.RunOnce(ctx); err != nil {
					logrus.WithField("component", "CleanupJob").WithError(err).Error("Periodic cleanup failed")
				}
			}
		}
	}()
}
