// Package transcript appends recognized text fragments to a meeting's stored
// transcript, skipping a fragment that repeats the previous one.
package transcript
