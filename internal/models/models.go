package models

import "time"

// Plan names known to the gateway. Plans are plain strings so new tiers can
// be introduced without a code change; unknown plans fall back to defaults.
const (
	PlanFree       = "free"
	PlanBasic      = "basic"
	PlanPremium    = "premium"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// DailyQuotaDefault applies to plans missing from the quota table.
const DailyQuotaDefault = 100

var dailyQuotas = map[string]float64{
	PlanFree:       400,
	PlanBasic:      400,
	PlanPro:        2000,
	PlanEnterprise: 5000,
}

// MaxUsageForPlan returns the default daily usage ceiling for plan.
func MaxUsageForPlan(plan string) float64 {
	if q, ok := dailyQuotas[plan]; ok {
		return q
	}
	return DailyQuotaDefault
}

// Account is a caller of the gateway. Timestamps are unix seconds so the
// stored document stays compatible with existing records.
type Account struct {
	ID                string  `json:"user_id"`
	APIKey            string  `json:"api_key"`
	Plan              string  `json:"plan"`
	Banned            bool    `json:"banned"`
	Usage             float64 `json:"usage"`
	MaxUsagePerDay    float64 `json:"max_usage_per_day"`
	TotalUsageAllTime float64 `json:"total_usage_all_time"`
	LastReset         int64   `json:"last_reset"`
	CreatedAt         int64   `json:"created_at"`
	QuotaOverride     bool    `json:"quota_override,omitempty"`
}

// UsageResetInterval is how long usage accumulates before it is zeroed.
const UsageResetInterval = 24 * time.Hour

// ResetDue reports whether the daily usage window has elapsed at now.
func (a *Account) ResetDue(now time.Time) bool {
	return now.Unix()-a.LastReset >= int64(UsageResetInterval/time.Second)
}

// ApplyUsage applies the daily reset rule and then adds amount.
func (a *Account) ApplyUsage(amount float64, now time.Time) {
	if a.ResetDue(now) {
		a.Usage = 0
		a.LastReset = now.Unix()
	}
	a.Usage += amount
	a.TotalUsageAllTime += amount
}

// RequestLog is one chat completion request as seen by the gateway.
type RequestLog struct {
	ID          int64     `json:"id"`
	AccountID   string    `json:"account_id"`
	Model       string    `json:"model"`
	Provider    string    `json:"provider"`
	Stream      bool      `json:"stream"`
	StatusCode  int       `json:"status_code"`
	UsageCharge float64   `json:"usage_charge"`
	DurationMs  int       `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AccountAnalytics aggregates request logs for one account.
type AccountAnalytics struct {
	AccountID     string             `json:"account_id"`
	Requests      int64              `json:"requests"`
	Failures      int64              `json:"failures"`
	UsageCharged  float64            `json:"usage_charged"`
	AvgDurationMs float64            `json:"avg_duration_ms"`
	ByModel       map[string]int64   `json:"by_model"`
	UsageByModel  map[string]float64 `json:"usage_by_model"`
}
