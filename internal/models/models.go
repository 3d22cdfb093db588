package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// AcceptedPayment is one (scheme, network, asset, amount) tuple a route accepts
type AcceptedPayment struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	PayTo   string `json:"payTo,omitempty"`
}

// AcceptedPayments is stored as JSONB
type AcceptedPayments []AcceptedPayment

// Value implements driver.Valuer
func (a AcceptedPayments) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner
func (a *AcceptedPayments) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// Route represents a payable endpoint owned by a tenant
type Route struct {
	RouteID   string           `db:"route_id" json:"routeId"`
	TenantID  string           `db:"tenant_id" json:"tenantId"`
	Method    string           `db:"method" json:"method"`
	Path      string           `db:"path" json:"path"`
	Accepts   AcceptedPayments `db:"accepts" json:"accepts"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// Validate checks a route before it is published
func (r *Route) Validate() error {
	if r.Method == "" {
		return fmt.Errorf("method must not be empty")
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must start with /")
	}
	seen := make(map[string]bool, len(r.Accepts))
	for i, a := range r.Accepts {
		if a.Scheme == "" || a.Network == "" {
			return fmt.Errorf("accepts[%d]: scheme and network are required", i)
		}
		if n := len(a.Asset); n < 2 || n > 10 {
			return fmt.Errorf("accepts[%d]: asset length must be between 2 and 10", i)
		}
		amount, err := decimal.NewFromString(a.Amount)
		if err != nil || amount.IsNegative() {
			return fmt.Errorf("accepts[%d]: amount must be a non-negative decimal", i)
		}
		key := a.Scheme + "|" + a.Network + "|" + a.Asset
		if seen[key] {
			return fmt.Errorf("accepts[%d]: duplicate %s/%s/%s", i, a.Scheme, a.Network, a.Asset)
		}
		seen[key] = true
	}
	return nil
}

// Match returns the accepted tuple for scheme/network/asset, if any
func (r *Route) Match(scheme, network, asset string) (AcceptedPayment, bool) {
	for _, a := range r.Accepts {
		if a.Scheme == scheme && a.Network == network && a.Asset == asset {
			return a, true
		}
	}
	return AcceptedPayment{}, false
}

// Facilitator types
const (
	FacilitatorTypeGlobal  = "Global"
	FacilitatorTypePrivate = "Private"
)

// Facilitator statuses
const (
	FacilitatorStatusActive   = "active"
	FacilitatorStatusInactive = "inactive"
)

// Health statuses
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
	HealthUnknown  = "unknown"
)

// Health is the last-known health reported by the poller
type Health struct {
	Status       string  `db:"health_status" json:"status"`
	P95LatencyMs int     `db:"p95_latency_ms" json:"p95LatencyMs"`
	SuccessRate  float64 `db:"success_rate" json:"successRate"`
}

// Facilitator represents a payment processor that verifies and settles payments
type Facilitator struct {
	FacilitatorID string         `db:"facilitator_id" json:"facilitatorId"`
	TenantID      *string        `db:"tenant_id" json:"tenantId"`
	Name          string         `db:"name" json:"name"`
	Type          string         `db:"type" json:"type"`
	Networks      pq.StringArray `db:"networks" json:"networks"`
	Schemes       pq.StringArray `db:"schemes" json:"schemes"`
	Assets        pq.StringArray `db:"assets" json:"assets"`
	Endpoint      string         `db:"endpoint" json:"endpoint"`
	Status        string         `db:"status" json:"status"`
	SourceID      *string        `db:"source_id" json:"sourceId,omitempty"`
	Health        `json:"health"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Supports reports whether the facilitator handles the triple. Empty
// scheme or asset lists accept anything.
func (f *Facilitator) Supports(network, scheme, asset string) bool {
	return contains(f.Networks, network, false) &&
		contains(f.Schemes, scheme, true) &&
		contains(f.Assets, asset, true)
}

// VisibleTo reports whether tenantID may route through the facilitator
func (f *Facilitator) VisibleTo(tenantID string) bool {
	if f.Type == FacilitatorTypeGlobal {
		return true
	}
	return f.TenantID != nil && *f.TenantID == tenantID
}

func contains(list []string, v string, emptyMatches bool) bool {
	if len(list) == 0 {
		return emptyMatches
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Payment is the proposed payment of an attempt
type Payment struct {
	Network string `json:"network"`
	Scheme  string `json:"scheme"`
	Amount  string `json:"amount"`
	Asset   string `json:"asset"`
}

// ReplayRecord marks a consumed payment authorization
type ReplayRecord struct {
	AuthorizationID string    `db:"authorization_id" json:"authorizationId"`
	TenantID        string    `db:"tenant_id" json:"tenantId"`
	DecisionID      string    `db:"decision_id" json:"decisionId"`
	FirstSeenAt     time.Time `db:"first_seen_at" json:"firstSeenAt"`
	ExpiresAt       time.Time `db:"expires_at" json:"expiresAt"`
}

func scanJSON(src interface{}, dst interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
