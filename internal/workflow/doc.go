// Package workflow holds the Temporal workflow definitions.
//
// Workflows stay deterministic: vendor calls, clocks and randomness live in
// activities, and every behavioral change is gated with workflow.GetVersion.
package workflow
