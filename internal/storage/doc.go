// Package storage implements a key-value store backed by one append-only
// log file.
//
// Open replays the log into an in-memory index. Put and Delete append a
// record, sync it, and only then change the index, so the index never gets
// ahead of what a later Open can recover. An incomplete trailing record
// left by a crash is dropped; any other malformed record fails Open.
//
// Compact rewrites the log to one record per live key through a temp file
// and an atomic rename.
package storage
