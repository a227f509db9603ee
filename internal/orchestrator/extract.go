package orchestrator

import (
	"regexp"
	"strings"
)

// Order identifiers come in a handful of known shapes: DTH orders (DT...),
// broadband orders (XBB...), service requests (SR_...), one-airtel suborders
// (OAOE_...), onsite issues (ONSITE_...), and bare numeric ids.
var orderIDPattern = regexp.MustCompile(`(?i)\b(DT\d{4,}|XBB\d{4,}|SR_[A-Z0-9_]+|OAOE_[A-Z0-9_]+|ONSITE_[A-Z0-9_]+|\d{9,})\b`)

var correlationIDPattern = regexp.MustCompile(`(?i)\b(cor_[a-z0-9_]+)\b`)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// placeholderNames lists the parameter names a command template references.
func placeholderNames(command string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(command, -1) {
		names = append(names, m[1])
	}
	return names
}

// extractParams pulls recognizable identifiers out of the user's message so
// runbook steps can bind them.
func extractParams(query string) map[string]string {
	params := map[string]string{}
	if m := orderIDPattern.FindString(query); m != "" {
		params["order_id"] = strings.ToUpper(m)
	}
	if m := correlationIDPattern.FindString(query); m != "" {
		params["correlation_id"] = strings.ToLower(m)
	}
	return params
}
