package audit

import "strings"

// Credential scanning is a heuristic safety net for text that is about to
// leave the process (log lines, support exports). It matches secret-shaped
// substrings only and misses anything else; it is not a substitute for
// dedicated secret-scanning tooling.

const excerptLen = 24

var genericSecretPatterns = []string{
	"api_key=",
	"apikey=",
	"key=",
	"token=",
	"secret=",
	"password=",
	"bearer ",
	"authorization:",
}

var providerSecretPatterns = map[string][]string{
	"KROGER":      {"client_id=", "client_secret="},
	"SPOONACULAR": {"x-api-key"},
}

type Finding struct {
	Pattern string `json:"pattern"`
	Excerpt string `json:"excerpt"`
}

type ScanResult struct {
	Exposed  bool      `json:"exposed"`
	Findings []Finding `json:"findings"`
}

func (l *Log) ScanForCredentialExposure(content, provider string) ScanResult {
	patterns := make([]string, 0, len(genericSecretPatterns)+2)
	patterns = append(patterns, genericSecretPatterns...)
	patterns = append(patterns, providerSecretPatterns[strings.ToUpper(provider)]...)

	lowered := strings.ToLower(content)
	var findings []Finding
	for _, pattern := range patterns {
		idx := strings.Index(lowered, pattern)
		if idx < 0 {
			continue
		}
		findings = append(findings, Finding{
			Pattern: pattern,
			Excerpt: truncateExcerpt(content, idx),
		})
	}

	result := ScanResult{Exposed: len(findings) > 0, Findings: findings}
	if result.Exposed {
		l.ReportViolation(ViolationCredentialExposure, provider, "", "", map[string]any{
			"severity": SeverityCritical,
			"findings": len(findings),
		})
	}
	return result
}

// truncateExcerpt returns a short window starting at the match so the
// finding itself does not re-leak the full secret.
func truncateExcerpt(content string, idx int) string {
	end := idx + excerptLen
	if end >= len(content) {
		return content[idx:]
	}
	return content[idx:end] + "..."
}
