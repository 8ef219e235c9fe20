// Package poller turns a heat pump session into a stream of status snapshots.
//
// A Coordinator calls Update on a fixed interval (1-10 s, default 10 s),
// derives temperatures from the raw fields and publishes a Snapshot to every
// subscriber. Commands sent through the coordinator trigger an immediate
// refresh when they succeed.
//
// Availability follows the session's recovery state. While a recovery
// episode is within its retry budget a field stays available as long as its
// last good value is known; once retries are exhausted nothing is available
// until a poll succeeds again.
package poller
