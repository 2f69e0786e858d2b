package domain

// ============================================================
// Account info (user + customer + permissions, one fetch)
// ============================================================

// AccountUser is the signed-in identity as reported by the account API.
type AccountUser struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	BaseCurrency string `json:"base_currency"`
}

// AccountPlan is the subscription plan label for the organization.
type AccountPlan struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AccountCustomer groups the organization-level billing data.
type AccountCustomer struct {
	OrganizationID string      `json:"organization_id"`
	Plan           AccountPlan `json:"plan"`
}

// AccountInfo is the combined payload of GET /v1/account/info. The
// permission set and the plan name always travel together so the
// coordinator can publish them in one atomic swap.
type AccountInfo struct {
	User        AccountUser     `json:"user"`
	Customer    AccountCustomer `json:"customer"`
	Permissions map[string]bool `json:"permissions"`
}

// DashboardSummary is the opaque dashboard aggregate consumed by the
// property/tenant/payment screens. The coordinator only moves it around;
// its field list belongs to the screens, not to this subsystem.
type DashboardSummary struct {
	Properties    int     `json:"properties"`
	Units         int     `json:"units"`
	Tenants       int     `json:"tenants"`
	OpenTickets   int     `json:"open_tickets"`
	OverdueRents  int     `json:"overdue_rents"`
	MonthlyIncome float64 `json:"monthly_income"`
}

// Identity is the locally persisted session identity read by the boundary
// guard before anything else mounts.
type Identity struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Token          string `json:"token"`
}
