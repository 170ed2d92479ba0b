package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/anatech/leadscout/models"
	"github.com/anatech/leadscout/services"
)

func TestCleanupJobPurgesExpiredRecords(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	leads := services.NewMemoryLeadStore()
	leads.SetClock(func() time.Time { return start })
	if _, err := leads.Dismiss(ctx, "u", "old-post"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	users := services.NewMemoryUserStore()
	for _, expiresAt := range []time.Time{start.Add(10 * time.Minute), start.Add(90 * 24 * time.Hour)} {
		otp := models.OTPCode{Email: "a@example.com", Code: "123456", Type: models.OTPTypeSignup, CreatedAt: start, ExpiresAt: expiresAt}
		if err := users.StoreOTP(ctx, otp); err != nil {
			t.Fatalf("store otp: %v", err)
		}
	}

	job := NewCleanupJob(leads, users, services.NewResultCache(time.Hour, 10))
	job.now = func() time.Time { return start.Add(models.DismissalPeriod + time.Hour) }

	report, err := job.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Dismissals != 1 || report.OTPCodes != 1 || report.FetchResults != 0 {
		t.Errorf("report = %+v", report)
	}

	latest, _ := users.LatestOTP(ctx, "a@example.com", models.OTPTypeSignup)
	if latest == nil || !latest.ExpiresAt.Equal(start.Add(90*24*time.Hour)) {
		t.Errorf("unexpired code was purged: %+v", latest)
	}
}

func TestCleanupJobSkipsMissingStores(t *testing.T) {
	report, err := NewCleanupJob(nil, nil, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report != (CleanupReport{}) {
		t.Errorf("report = %+v", report)
	}
}

func TestCleanupJobRunOnceSkipsOverlap(t *testing.T) {
	job := NewCleanupJob(nil, nil, nil)
	job.running.Store(true)

	_, skipped, err := job.RunOnce(context.Background())
	if err != nil || !skipped {
		t.Errorf("RunOnce during a run = %v, %v", skipped, err)
	}

	job.running.Store(false)
	if _, skipped, _ := job.RunOnce(context.Background()); skipped {
		t.Error("idle job skipped its run")
	}
	if job.IsRunning() {
		t.Error("running flag not cleared")
	}
}

func TestCleanupJobStartRunsPeriodically(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	leads := services.NewMemoryLeadStore()
	leads.SetClock(func() time.Time { return start })
	if _, err := leads.Dismiss(ctx, "u", "p1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	job := NewCleanupJob(leads, nil, nil)
	job.now = func() time.Time { return start.Add(models.DismissalPeriod + time.Hour) }
	job.Start(ctx, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		active, err := leads.DismissedPostIDs(ctx, "u", start)
		if err != nil {
			t.Fatalf("DismissedPostIDs: %v", err)
		}
		if !active["p1"] {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("periodic cleanup never purged the expired marker")
}
