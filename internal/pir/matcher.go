// Package pir evaluates priority-of-interest rules against threats.
package pir

import (
	"strconv"
	"strings"

	"github.com/quantumlayerhq/aetim/pkg/models"
)

// Matches reports whether an enabled rule's predicate holds for the threat.
// Disabled rules never match and never raise.
func Matches(rule models.PIR, threat *models.Threat) bool {
	if !rule.Enabled {
		return false
	}

	switch rule.ConditionType {
	case models.PIRConditionProductName:
		return matchProductName(rule.ConditionValue, threat)
	case models.PIRConditionCVEID:
		return matchCVE(rule.ConditionValue, threat)
	case models.PIRConditionThreatType:
		return matchThreatType(rule.ConditionValue, threat)
	case models.PIRConditionCVSSScore:
		return matchCVSS(rule.ConditionValue, threat)
	}
	return false
}

// AnyHighPriority reports whether any enabled High-priority rule matches.
// This is the risk scorer's PIR-weight trigger.
func AnyHighPriority(rules []models.PIR, threat *models.Threat) bool {
	for _, rule := range rules {
		if rule.Priority != models.PIRPriorityHigh {
			continue
		}
		if Matches(rule, threat) {
			return true
		}
	}
	return false
}

// MatchingRules returns every enabled rule that matches the threat.
func MatchingRules(rules []models.PIR, threat *models.Threat) []models.PIR {
	var matched []models.PIR
	for _, rule := range rules {
		if Matches(rule, threat) {
			matched = append(matched, rule)
		}
	}
	return matched
}

// matchProductName is a case-insensitive substring test over the threat's
// product names.
func matchProductName(condition string, threat *models.Threat) bool {
	needle := strings.ToLower(strings.TrimSpace(condition))
	if needle == "" {
		return false
	}
	for _, p := range threat.Products {
		if strings.Contains(strings.ToLower(p.Name), needle) {
			return true
		}
	}
	return false
}

// matchCVE matches by prefix when the condition ends with a dash, else by
// equality.
func matchCVE(condition string, threat *models.Threat) bool {
	if threat.CVEID == nil {
		return false
	}
	cve := strings.ToUpper(*threat.CVEID)
	cond := strings.ToUpper(strings.TrimSpace(condition))
	if cond == "" {
		return false
	}
	if strings.HasSuffix(cond, "-") {
		return strings.HasPrefix(cve, cond)
	}
	return cve == cond
}

func matchThreatType(condition string, threat *models.Threat) bool {
	if threat.ThreatType == nil {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(condition))
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(*threat.ThreatType), needle)
}

// matchCVSS compares the threat's base score against the condition: a
// leading > or < is strict, a bare number means at-least.
func matchCVSS(condition string, threat *models.Threat) bool {
	if threat.CVSSScore == nil {
		return false
	}
	score := *threat.CVSSScore

	cond := strings.TrimSpace(condition)
	strictGreater := strings.HasPrefix(cond, ">")
	strictLess := strings.HasPrefix(cond, "<")
	if strictGreater || strictLess {
		cond = strings.TrimSpace(cond[1:])
	}

	bound, err := strconv.ParseFloat(cond, 64)
	if err != nil {
		return false
	}

	switch {
	case strictGreater:
		return score > bound
	case strictLess:
		return score < bound
	default:
		return score >= bound
	}
}
