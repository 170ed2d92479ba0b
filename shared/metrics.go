package shared

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenUsage accumulates LLM token counts for one call category.
type TokenUsage struct {
	Calls            int64 `json:"calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// ServiceMetrics tracks performance and success metrics for an outbound dependency
type ServiceMetrics struct {
	ServiceName         string
	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	totalProcessingTime time.Duration
	lastUpdated         time.Time
	tokens              map[string]*TokenUsage
	performance         *PerformanceMetrics
	mutex               sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of ServiceMetrics safe to serialize.
type MetricsSnapshot struct {
	ServiceName           string                `json:"service_name"`
	TotalRequests         int64                 `json:"total_requests"`
	SuccessfulRequests    int64                 `json:"successful_requests"`
	FailedRequests        int64                 `json:"failed_requests"`
	SuccessRate           float64               `json:"success_rate"`
	AverageProcessingTime time.Duration         `json:"average_processing_time"`
	P95ProcessingTime     time.Duration         `json:"p95_processing_time"`
	MaxProcessingTime     time.Duration         `json:"max_processing_time"`
	TotalTokens           int64                 `json:"total_tokens"`
	Tokens                map[string]TokenUsage `json:"tokens,omitempty"`
	LastUpdated           time.Time             `json:"last_updated"`
}

// NewServiceMetrics creates a new metrics tracker for a service
func NewServiceMetrics(serviceName string) *ServiceMetrics {
	return &ServiceMetrics{
		ServiceName: serviceName,
		lastUpdated: time.Now(),
		tokens:      make(map[string]*TokenUsage),
		performance: NewPerformanceMetrics(),
	}
}

// RecordRequest records a request with its success status and processing time
func (m *ServiceMetrics) RecordRequest(success bool, processingTime time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests++
	m.totalProcessingTime += processingTime
	if success {
		m.successfulRequests++
	} else {
		m.failedRequests++
	}
	m.lastUpdated = time.Now()
	m.performance.RecordProcessingTime(processingTime)
}

// RecordTokens adds token usage reported by the LLM provider under category.
func (m *ServiceMetrics) RecordTokens(category string, promptTokens, completionTokens int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	usage, ok := m.tokens[category]
	if !ok {
		usage = &TokenUsage{}
		m.tokens[category] = usage
	}
	usage.Calls++
	usage.PromptTokens += int64(promptTokens)
	usage.CompletionTokens += int64(completionTokens)
	m.lastUpdated = time.Now()
}

func (m *ServiceMetrics) successRateLocked() float64 {
	if m.totalRequests == 0 {
		return 0.0
	}
	return float64(m.successfulRequests) / float64(m.totalRequests) * 100.0
}

// GetSnapshot returns a thread-safe snapshot of current metrics
func (m *ServiceMetrics) GetSnapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshot := MetricsSnapshot{
		ServiceName:        m.ServiceName,
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		SuccessRate:        m.successRateLocked(),
		LastUpdated:        m.lastUpdated,
	}
	if m.totalRequests > 0 {
		snapshot.AverageProcessingTime = time.Duration(int64(m.totalProcessingTime) / m.totalRequests)
	}
	perf := m.performance.GetPerformanceSnapshot()
	snapshot.P95ProcessingTime = perf.P95ProcessingTime
	snapshot.MaxProcessingTime = perf.MaxProcessingTime

	if len(m.tokens) > 0 {
		snapshot.Tokens = make(map[string]TokenUsage, len(m.tokens))
		for category, usage := range m.tokens {
			snapshot.Tokens[category] = *usage
			snapshot.TotalTokens += usage.PromptTokens + usage.CompletionTokens
		}
	}
	return snapshot
}

// LogSummary logs a metrics summary
func (m *ServiceMetrics) LogSummary() {
	snapshot := m.GetSnapshot()

	logrus.WithFields(logrus.Fields{
		"service_name":            snapshot.ServiceName,
		"total_requests":          snapshot.TotalRequests,
		"failed_requests":         snapshot.FailedRequests,
		"success_rate":            snapshot.SuccessRate,
		"average_processing_time": snapshot.AverageProcessingTime,
		"p95_processing_time":     snapshot.P95ProcessingTime,
		"total_tokens":            snapshot.TotalTokens,
	}).Info("Service metrics summary")
}

// PerformanceMetrics tracks latency distribution over the last 1000 samples
type PerformanceMetrics struct {
	MinProcessingTime time.Duration `json:"min_processing_time"`
	MaxProcessingTime time.Duration `json:"max_processing_time"`
	P95ProcessingTime time.Duration `json:"p95_processing_time"`
	P99ProcessingTime time.Duration `json:"p99_processing_time"`
	mutex             sync.RWMutex
	processingTimes   []time.Duration
}

// NewPerformanceMetrics creates a new performance metrics tracker
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		processingTimes: make([]time.Duration, 0, 1000),
	}
}

// RecordProcessingTime records a processing time and updates performance metrics
func (pm *PerformanceMetrics) RecordProcessingTime(duration time.Duration) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if pm.MinProcessingTime == 0 || duration < pm.MinProcessingTime {
		pm.MinProcessingTime = duration
	}
	if duration > pm.MaxProcessingTime {
		pm.MaxProcessingTime = duration
	}

	if len(pm.processingTimes) >= 1000 {
		pm.processingTimes = pm.processingTimes[1:]
	}
	pm.processingTimes = append(pm.processingTimes, duration)

	pm.calculatePercentiles()
}

func (pm *PerformanceMetrics) calculatePercentiles() {
	if len(pm.processingTimes) == 0 {
		return
	}

	times := make([]time.Duration, len(pm.processingTimes))
	copy(times, pm.processingTimes)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	p95Index := int(float64(len(times)) * 0.95)
	p99Index := int(float64(len(times)) * 0.99)

	if p95Index < len(times) {
		pm.P95ProcessingTime = times[p95Index]
	}
	if p99Index < len(times) {
		pm.P99ProcessingTime = times[p99Index]
	}
}

// GetPerformanceSnapshot returns a thread-safe copy of the latency figures
func (pm *PerformanceMetrics) GetPerformanceSnapshot() PerformanceMetrics {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()

	return PerformanceMetrics{
		MinProcessingTime: pm.MinProcessingTime,
		MaxProcessingTime: pm.MaxProcessingTime,
		P95ProcessingTime: pm.P95ProcessingTime,
		P99ProcessingTime: pm.P99ProcessingTime,
	}
}
