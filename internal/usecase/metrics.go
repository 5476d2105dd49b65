package usecase

import "context"

// MetricsSummary represents aggregated attendance verification insights.
type MetricsSummary struct {
	TotalRequests              int64   `json:"total_requests"`
	SuccessfulRequests         int64   `json:"successful_requests"`
	SuccessRate                float64 `json:"success_rate"`
	AveragePercentage          float64 `json:"average_percentage"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates extraction metrics from persisted logs.
func (uc *AttendanceUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRequests:              aggregation.TotalCount,
		SuccessfulRequests:         aggregation.SuccessCount,
		AveragePercentage:          aggregation.AveragePercentage,
		AverageProcessingLatencyMs: aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
