package consent

import (
	"errors"
	"time"
)

const (
	CategoryMarketing     = "marketing"
	CategoryTransactional = "transactional"
	CategoryPromotional   = "promotional"
	CategoryAccount       = "account"
	CategorySecurity      = "security"
	CategoryWaitlist      = "waitlist"

	StatusOptedIn  = "opted_in"
	StatusOptedOut = "opted_out"
	StatusPending  = "pending"

	MethodExplicit = "explicit_consent"
	MethodImplied  = "implied_consent"
)

var ErrRecordNotFound = errors.New("consent record not found")

// explicitConsentCategories are commercial in nature and require a recorded
// opt-in before any send. Everything else rides on the service relationship.
var explicitConsentCategories = map[string]bool{
	CategoryMarketing:   true,
	CategoryPromotional: true,
	CategoryWaitlist:    true,
}

// Record is one recipient's consent state. Categories maps category name to
// the opt-in flag; a missing key means the recipient never expressed a
// preference for that category.
type Record struct {
	Email             string          `json:"email"`
	UserID            string          `json:"userId,omitempty"`
	Status            string          `json:"status"`
	Method            string          `json:"method"`
	Categories        map[string]bool `json:"categories"`
	Source            string          `json:"source,omitempty"`
	RecordedAt        time.Time       `json:"recordedAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	UnsubscribedAt    *time.Time      `json:"unsubscribedAt,omitempty"`
	UnsubscribeReason string          `json:"unsubscribeReason,omitempty"`
}

type Verification struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
