package classify

import (
	"log/slog"
	"strings"
)

// Rules holds the configurable inputs for priority classification: keyword
// lists per tier and the set of phone-number prefixes that identify
// municipal or commercial exchanges. Matching is case-insensitive substring
// matching, deliberately simple so a dispatcher can audit why a call was
// escalated.
type Rules struct {
	// EmergencyKeywords force P1 when found in the transcript or the
	// extracted problem description.
	EmergencyKeywords []string
	// MunicipalPrefixes are phone-number prefixes (after the +1 country
	// code) for municipal/commercial exchanges, classified P2.
	MunicipalPrefixes []string
	// BusinessKeywords identify commercial callers, classified P3.
	BusinessKeywords []string
}

// DefaultRules returns the baseline keyword configuration. Deployments
// extend these lists through config; the defaults cover the common
// emergency vocabulary in both English and French.
func DefaultRules() Rules {
	return Rules{
		EmergencyKeywords: []string{
			"flood", "inondation", "sewage", "égout", "refoulement",
			"burst pipe", "tuyau éclaté", "urgent", "urgence", "no water",
		},
		MunicipalPrefixes: []string{"514872", "5143680", "450970"},
		BusinessKeywords: []string{
			"restaurant", "office", "bureau", "commerce", "commercial",
			"warehouse", "entrepôt",
		},
	}
}

// Classifier derives a priority tier from call content. It is stateless;
// the upgrade-only invariant is enforced by the session tracker, which
// discards results less severe than an already-stored tier.
type Classifier struct {
	rules  Rules
	logger *slog.Logger
}

// NewClassifier creates a Classifier with the given rules.
func NewClassifier(rules Rules, logger *slog.Logger) *Classifier {
	return &Classifier{
		rules:  rules,
		logger: logger.With("component", "classifier"),
	}
}

// Classify evaluates the ordered rule list, most severe first, and returns
// the first matching tier. It never returns TierNone: a call that matches
// nothing is a standard P4 request.
func (c *Classifier) Classify(transcript string, fields map[string]string, phoneNumber string) Tier {
	haystack := strings.ToLower(transcript)
	for _, v := range fields {
		haystack += "\n" + strings.ToLower(v)
	}

	if matchAny(haystack, c.rules.EmergencyKeywords) {
		return TierP1
	}
	if matchPrefix(phoneNumber, c.rules.MunicipalPrefixes) {
		return TierP2
	}
	if matchAny(haystack, c.rules.BusinessKeywords) {
		return TierP3
	}
	return TierP4
}

// matchAny reports whether any keyword occurs in the lowercased haystack.
func matchAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// matchPrefix reports whether the national part of an E.164 number starts
// with any configured exchange prefix. The leading "+1" (or bare "+") is
// stripped so prefixes can be written as dialed digits.
func matchPrefix(phoneNumber string, prefixes []string) bool {
	digits := strings.TrimPrefix(phoneNumber, "+1")
	digits = strings.TrimPrefix(digits, "+")
	if digits == "" {
		return false
	}
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(digits, p) {
			return true
		}
	}
	return false
}
