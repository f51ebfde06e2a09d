// Package assistant answers dashboard chat messages from a fixed set of
// keyword rules. It does not reason; every reply is canned.
package assistant

import (
	"regexp"
	"strings"
)

// Rule maps a keyword pattern to a canned reply.
type Rule struct {
	Name   string
	Regexp *regexp.Regexp
	Reply  string
}

// DefaultReply is returned when no rule matches.
const DefaultReply = "I can help with risk assessments, compliance status, alerts, " +
	"reports and data sources. Try asking about one of those."

// Assistant matches messages against rules in order; the first match wins.
type Assistant struct {
	rules []Rule
}

// New creates an Assistant from compiled rules.
func New(rules []Rule) *Assistant {
	return &Assistant{rules: rules}
}

// DefaultRules returns the built-in keyword rules.
func DefaultRules() []Rule {
	raw := []struct {
		name    string
		pattern string
		reply   string
	}{
		{"greeting", `(?i)^\s*(hi|hello|hey|good\s+(morning|afternoon|evening))\b`,
			"Hello! Ask me about risk, compliance, alerts or reports."},
		{"risk", `(?i)\b(risk|exposure|var|value\s+at\s+risk)\b`,
			"Portfolio risk is reviewed daily. Open the Risk view for the latest assessments and exposure by category."},
		{"compliance", `(?i)\b(compliance|regulat\w*|basel|audit\s+trail)\b`,
			"Compliance status is tracked per framework. The Compliance view lists open findings and upcoming deadlines."},
		{"alerts", `(?i)\b(alerts?|warnings?|incidents?)\b`,
			"Active alerts are listed on the dashboard, newest first. Filter by severity to focus on critical items."},
		{"reports", `(?i)\b(reports?|export|summary)\b`,
			"Reports can be generated from the Reports view if your account holds the reports:generate permission."},
		{"data_sources", `(?i)\b(data\s+sources?|connectors?|feeds?|integrations?)\b`,
			"Data source connections are managed by administrators under Admin, Data Sources."},
		{"help", `(?i)\b(help|what\s+can\s+you\s+do)\b`,
			DefaultReply},
	}

	rules := make([]Rule, 0, len(raw))
	for _, r := range raw {
		rules = append(rules, Rule{
			Name:   r.name,
			Regexp: regexp.MustCompile(r.pattern),
			Reply:  r.reply,
		})
	}
	return rules
}

// Reply returns the canned answer for message and the name of the rule that
// produced it ("" for the default reply).
func (a *Assistant) Reply(message string) (string, string) {
	content := strings.TrimSpace(message)
	if content == "" {
		return DefaultReply, ""
	}
	for _, r := range a.rules {
		if r.Regexp.MatchString(content) {
			return r.Reply, r.Name
		}
	}
	return DefaultReply, ""
}

// Insight is one item of the insight feed.
type Insight struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// DefaultInsights is the canned insight set shown when the insight service is
// unavailable.
func DefaultInsights() []Insight {
	return []Insight{
		{
			ID:         "fallback-credit-concentration",
			Title:      "Credit concentration",
			Summary:    "Exposure to the top ten counterparties is above its quarterly average. Review concentration limits.",
			Category:   "risk",
			Confidence: 0.82,
		},
		{
			ID:         "fallback-regulatory-deadline",
			Title:      "Upcoming regulatory filing",
			Summary:    "A regulatory filing deadline falls within the next 30 days. Confirm supporting data is complete.",
			Category:   "compliance",
			Confidence: 0.9,
		},
		{
			ID:         "fallback-alert-volume",
			Title:      "Alert volume trend",
			Summary:    "High-severity alerts rose week over week. Check data source health for noisy feeds.",
			Category:   "operations",
			Confidence: 0.74,
		},
	}
}
