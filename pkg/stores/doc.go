// Package stores provides the durable state of the updater: the Partition
// Record that marks partitions already updated in the current attempt, and
// the failure log written before a partition update reports an error.
// The SQLite store runs in WAL mode with full synchronous commits so a
// write is on disk when the call returns.
package stores
