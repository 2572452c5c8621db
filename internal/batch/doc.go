// Package batch implements the secondary processing path: a recorded meeting
// audio file is downloaded, transcribed in one pass and summarized as a
// secondary transcript. It also watches an inbox directory for dropped
// recordings.
package batch
