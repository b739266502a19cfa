// Package storage writes scrape results to disk.
//
// Listings are appended as JSON lines to <output>/<name>.jsonl. Video bytes
// are written to <output>/videos/<id>.mp4 through a temporary file and a
// rename, and videos already present are detected on startup so repeated
// runs skip them.
package storage
