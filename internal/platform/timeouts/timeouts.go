// Package timeouts defines shared timeout constants used across commands.
// Centralizing these values prevents drift between process boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// Shutdown limits how long a command waits for graceful teardown before
// forcing termination.
const Shutdown = 10 * time.Second
