package handlers

import (
	"context"
	"database/sql"

	"github.com/anatech/leadscout/shared"
	"github.com/gofiber/fiber/v2"
)

// PerformanceHandler reports outbound call counts, latencies and token usage.
type PerformanceHandler struct {
	DB       *sql.DB
	Metrics  []*shared.ServiceMetrics
	Accounts AccountService
}

func NewPerformanceHandler(db *sql.DB, accounts AccountService, metrics ...*shared.ServiceMetrics) *PerformanceHandler {
	return &PerformanceHandler{
		DB:       db,
		Metrics:  metrics,
		Accounts: accounts,
	}
}

// GetUsage returns per-service metrics plus the caller's query quota
func (h *PerformanceHandler) GetUsage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	usage := make(map[string]interface{})

	snapshots := make([]shared.MetricsSnapshot, 0, len(h.Metrics))
	var totalTokens int64
	for _, metrics := range h.Metrics {
		if metrics == nil {
			continue
		}
		snapshot := metrics.GetSnapshot()
		totalTokens += snapshot.TotalTokens
		snapshots = append(snapshots, snapshot)
	}
	usage["services"] = snapshots
	usage["total_tokens"] = totalTokens

	if h.Accounts != nil {
		quota, err := h.Accounts.CheckQueryLimit(ctx, UserID(c))
		if err != nil && shared.CategoryOf(err) != shared.ErrorCategoryQuota {
			return ErrorResponse(c, err)
		}
		usage["quota"] = quota
	}

	if h.DB != nil {
		dbStats := h.DB.Stats()
		usage["database_stats"] = map[string]interface{}{
			"open_connections": dbStats.OpenConnections,
			"in_use":           dbStats.InUse,
			"idle":             dbStats.Idle,
			"wait_count":       dbStats.WaitCount,
			"wait_duration_ms": dbStats.WaitDuration.Milliseconds(),
		}

		indexStats, err := h.getIndexUsageStats(ctx)
		if err != nil {
			usage["index_stats_error"] = err.Error()
		} else {
			usage["index_stats"] = indexStats
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    usage,
	})
}

// getIndexUsageStats retrieves index usage for the lead tables
func (h *PerformanceHandler) getIndexUsageStats(ctx context.Context) ([]map[string]interface{}, error) {
	query := `
		SELECT
			relname AS table_name,
			indexrelname AS index_name,
			idx_scan AS scans
		FROM pg_stat_user_indexes
		WHERE relname IN ('saved_leads', 'dismissed_posts', 'otp_codes')
		ORDER BY relname, idx_scan DESC
	`

	rows, err := h.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]map[string]interface{}, 0)
	for rows.Next() {
		var table, index string
		var scans int64
		if err := rows.Scan(&table, &index, &scans); err != nil {
			return nil, err
		}
		stats = append(stats, map[string]interface{}{
			"table": table,
			"index": index,
			"scans": scans,
		})
	}
	return stats, rows.Err()
}
