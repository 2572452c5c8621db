// Package summary turns a meeting transcript into a summary and action items
// using a generative model, applies the result to the meeting record exactly once
// and notifies interested parties.
package summary
