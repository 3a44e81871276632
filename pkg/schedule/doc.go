// Package schedule provides schedules and a small runner for periodic
// maintenance tasks such as the stale ticket report.
//
// This package includes:
//   - Schedule interface
//   - Every() for fixed-interval schedules
//   - Parse() and Cron() for cron expressions and descriptors
//   - Runner, which executes registered tasks without overlap
package schedule
