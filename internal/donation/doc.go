// Package donation polls a fundraising campaign and publishes a
// MilestoneReached event for every 100 units crossed.
//
// The poller owns its state. It authorizes with exponential backoff,
// re-authorizes within the same tick when the token expires, and skips
// ticks whose total cannot be parsed.
package donation
