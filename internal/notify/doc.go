// Package notify delivers "meeting processed" notifications once a summary has
// been applied: to an HTTP webhook, a Redis pub/sub channel and as Word minutes.
package notify
