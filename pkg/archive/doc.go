// Package archive builds ZIP archives from lists of image URLs.
//
// Build fetches every item concurrently through a per-build set of limiters
// and writes one entry per item in request order. Items that cannot be
// fetched are written as a placeholder PNG and listed in FAILED.txt:
//
//	#2 https://cdn.example/b.png — direct returned status 500
//
// Entries are streamed as soon as every earlier item has been written, so
// an archive never has to be held in memory as a whole.
package archive
