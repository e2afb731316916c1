/*
Package scheduler drives periodic source polling.

Each registered source gets a dedicated goroutine: the first poll fires on
module activation, later polls follow the configured interval or cron
expression with up to 10% jitter. A poll that outlives its cadence causes
the missed ticks to be skipped and logged rather than overlapped. Circuit
state is consulted every tick: an open circuit suppresses the poll call
entirely until the retry deadline admits a single probe.

Events from one poll are published to the bus in emission order; the
source's checkpoint is persisted only after the bus accepted all of them.
*/
package scheduler
