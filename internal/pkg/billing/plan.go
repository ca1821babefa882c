package billing

import (
	"strings"
)

// Internal plans, lowest to highest.
const (
	PlanFree     = "free"
	PlanBasic    = "basic"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

func normalizePlan(plan string) string {
	switch p := strings.ToLower(strings.TrimSpace(plan)); p {
	case PlanBasic, PlanPro, PlanBusiness:
		return p
	default:
		return PlanFree
	}
}

func planRank(plan string) int {
	switch normalizePlan(plan) {
	case PlanBusiness:
		return 3
	case PlanPro:
		return 2
	case PlanBasic:
		return 1
	default:
		return 0
	}
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}

func normalizeStatus(status, def string) string {
	switch s := strings.ToLower(strings.TrimSpace(status)); s {
	case "":
		return def
	case "cancelled":
		return "canceled"
	default:
		return s
	}
}
