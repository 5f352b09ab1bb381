// Package snapshot provides read-only views of a backend directory that a
// writer holds locked.
//
// Pebble refuses a second open of a directory, even a read-only one, while
// its LOCK file is held. New works around this by linking every file except
// the lock file into a fresh sibling directory and opening that instead.
// This is a best-effort trick for engines with immutable files and not a
// transactional read: the view is frozen at link time and a concurrent
// compaction may remove files before they are opened.
package snapshot
