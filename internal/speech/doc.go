// Package speech provides streaming and batch speech recognition backends.
// A Backend opens long-lived recognition streams for live meeting audio and
// recognizes stored recordings either in one request or by streaming the file.
package speech
