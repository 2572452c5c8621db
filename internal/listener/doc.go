// Package listener handles meeting audio deliveries: streamed chunks for live
// transcription and requests to process a recorded meeting after the fact.
package listener
