package analyzer

import (
	"regexp"
	"strings"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

// rule is one static pattern detector. Confidence is fixed per rule, it
// never depends on how many other rules fired.
type rule struct {
	category   domain.FindingCategory
	pattern    *regexp.Regexp
	confidence domain.Confidence
}

var builtinRules = []rule{
	// exfiltration endpoints
	{domain.CategoryWebhook, regexp.MustCompile(`discord(?:app)?\.com/api/webhooks`), domain.ConfidenceHigh},
	{domain.CategoryWebhook, regexp.MustCompile(`(?i)\bwebhook[_a-z]*\s*[=:(]`), domain.ConfidenceMedium},

	// credential and session access
	{domain.CategoryTokenAccess, regexp.MustCompile(`\.getToken\s*\(|\.getSessionID\s*\(|\.getSession\s*\(`), domain.ConfidenceHigh},
	{domain.CategoryTokenAccess, regexp.MustCompile(`(?i)\b(?:access|auth|session)[_]?token\b`), domain.ConfidenceMedium},

	// outbound network plumbing
	{domain.CategoryNetworkCall, regexp.MustCompile(`\bHttpURLConnection\b|\.openConnection\s*\(|\bHttpClient\b`), domain.ConfidenceMedium},
	{domain.CategoryNetworkCall, regexp.MustCompile(`\bnew\s+URL\s*\(\s*"https?://`), domain.ConfidenceLow},

	// runtime reflection aimed at obfuscated short identifiers; reflection
	// against readable names is everyday library code and stays quiet
	{domain.CategoryReflectionObfuscation, regexp.MustCompile(`Class\.forName\s*\(\s*"(?:[\w$]+\.)*[a-z][a-z0-9$]{0,2}"`), domain.ConfidenceMedium},
	{domain.CategoryReflectionObfuscation, regexp.MustCompile(`\.getDeclared(?:Method|Field)\s*\(\s*"[a-z][a-z0-9$]{0,2}"`), domain.ConfidenceMedium},
}

// buildRules appends deny-list substring rules to the builtin table.
func buildRules(denyList []string) []rule {
	rules := make([]rule, 0, len(builtinRules)+len(denyList))
	rules = append(rules, builtinRules...)
	for _, entry := range denyList {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		rules = append(rules, rule{
			category:   domain.CategorySuspiciousString,
			pattern:    regexp.MustCompile(regexp.QuoteMeta(entry)),
			confidence: domain.ConfidenceMedium,
		})
	}
	return rules
}

// name-based bucket markers. GUI naming overrides everything else; network
// naming or a network-call finding beats the data default.
var (
	guiKeywords     = []string{"gui", "screen", "button", "hud", "render", "overlay"}
	networkKeywords = []string{"net", "http", "webhook", "url", "socket", "packet", "session", "auth", "token"}
)

// classifyClass maps a class entry path to a bucket. hasNetworkFinding is
// whether the class's decompiled source carried a network-call finding.
// Every class lands somewhere: unmatched classes default to the data bucket.
func classifyClass(entry string, hasNetworkFinding bool) domain.ClassBucket {
	lower := strings.ToLower(strings.TrimSuffix(entry, ".class"))
	segments := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '/' || r == '$' || r == '_' || r == '.'
	})

	if matchesKeyword(segments, guiKeywords) {
		return domain.BucketGUI
	}
	if hasNetworkFinding || matchesKeyword(segments, networkKeywords) {
		return domain.BucketNetwork
	}
	return domain.BucketData
}

func matchesKeyword(segments, keywords []string) bool {
	for _, segment := range segments {
		for _, kw := range keywords {
			if segment == kw || strings.HasPrefix(segment, kw) {
				return true
			}
		}
	}
	return false
}
