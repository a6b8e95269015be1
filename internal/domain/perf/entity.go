package perf

import "time"

// Metric is a durable performance sample recorded by the background engines
// (sweep durations, queue depth snapshots).
type Metric struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"index"`
	Value      float64
	Unit       string
	RecordedAt time.Time `gorm:"index"`
}

// Alert is raised when a recorded metric crosses its threshold. Updated only
// to flip IsAcknowledged.
type Alert struct {
	ID             string `gorm:"primaryKey"`
	MetricName     string
	Threshold      float64
	Observed       float64
	Severity       string
	IsAcknowledged bool
	CreatedAt      time.Time
}

func (Metric) TableName() string {
	return "performance_metrics"
}

func (Alert) TableName() string {
	return "performance_alerts"
}
