package storage

import (
	"time"

	"market-scanner/internal/report"
)

// ReportRecord is an archived run without its item payload.
type ReportRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    report.Summary
	CreatedAt  time.Time
}

// Delivery is the last successful notification for a symbol.
type Delivery struct {
	Symbol      string
	DeliveredAt time.Time
}
