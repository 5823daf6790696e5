// Package history keeps a local record of property value changes.
//
// The Recorder listens to the adapter's notifications and writes each
// property change to the reading_history table through a Repository. It
// queues writes and performs them on its own goroutine, so the adapter is
// never blocked on SQLite. Old rows are removed with Prune, normally from
// a periodic job sized by database.history_retention.
package history
