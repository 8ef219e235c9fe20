// Package ui renders greehp's terminal output.
//
// One-shot commands print a Header, then either a StatusView or a Result
// box, through a Printer that can switch to plain JSON for scripting.
// The monitor command runs MonitorModel, a Bubble Tea program that redraws
// the status after every poll and highlights values that changed.
//
// zap logging is silent unless GREEHP_LOG_LEVEL or --log-level is set, so
// the rendered output stays clean.
package ui
