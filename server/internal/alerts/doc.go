// Package alerts implements the rule evaluation engine and webhook delivery
// for broker alerting. Rules are evaluated against queue statistics; webhooks
// are delivered to Teams, Slack, or generic HTTP targets.
package alerts
