// Package stream keeps one live recognition stream per meeting across many
// independent chunk deliveries. The Registry maps meeting ids to sessions and
// reaps abandoned ones; the Controller opens streams, writes audio, keeps
// streams alive through silence, flags inactive or failed sessions and tears
// streams down on the last chunk.
package stream
