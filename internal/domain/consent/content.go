package consent

import (
	"fmt"
	"net/url"
	"strings"

	"mall/internal/platform/config"
)

// ContentIssue names one compliance problem with an outbound message body.
type ContentIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator checks outbound commercial email against the identification and
// opt-out requirements: the sender must be identifiable, a postal address
// must appear, and an unsubscribe mechanism must be present.
type Validator struct {
	brandName     string
	postalAddress string
	unsubURL      string
	unsubAddr     string
}

func NewValidator(cfg config.Config) *Validator {
	return &Validator{
		brandName:     cfg.BrandName,
		postalAddress: cfg.PostalAddress,
		unsubURL:      cfg.UnsubscribeURL,
		unsubAddr:     cfg.UnsubscribeAddr,
	}
}

func (v *Validator) ValidateContent(body, category string) []ContentIssue {
	var issues []ContentIssue
	lowered := strings.ToLower(body)

	commercial := explicitConsentCategories[category]
	if commercial && !strings.Contains(lowered, strings.ToLower(v.brandName)) {
		issues = append(issues, ContentIssue{
			Code:    "missing_sender_identification",
			Message: fmt.Sprintf("commercial email must identify %s as the sender", v.brandName),
		})
	}
	if !strings.Contains(lowered, strings.ToLower(v.postalAddress)) {
		issues = append(issues, ContentIssue{
			Code:    "missing_postal_address",
			Message: "email must include the sender's physical postal address",
		})
	}
	if !strings.Contains(lowered, "unsubscribe") {
		issues = append(issues, ContentIssue{
			Code:    "missing_unsubscribe",
			Message: "email must include an unsubscribe mechanism",
		})
	}
	return issues
}

// ComplianceHeaders returns the headers every outbound message carries so
// mailbox providers can surface one-click unsubscribe.
func (v *Validator) ComplianceHeaders(email string) map[string]string {
	return map[string]string{
		"List-Unsubscribe": fmt.Sprintf("<%s?email=%s>, <mailto:%s?subject=unsubscribe>",
			v.unsubURL, url.QueryEscape(email), v.unsubAddr),
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}

// Footer renders the mandatory identification block appended to outbound
// mail bodies.
func (v *Validator) Footer() string {
	return fmt.Sprintf("\n\n--\n%s\n%s\nTo unsubscribe, visit %s", v.brandName, v.postalAddress, v.unsubURL)
}
