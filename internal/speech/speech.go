package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Supported audio encodings
const (
	EncodingWebmOpus = "WEBM_OPUS"
	EncodingOggOpus  = "OGG_OPUS"
	EncodingLinear16 = "LINEAR16"
	EncodingFLAC     = "FLAC"
)

// fileChunkSize is the largest audio payload sent per streaming request
const fileChunkSize = 25 * 1024

var (
	// ErrAudioTimeout is reported when the backend closes a stream because no audio arrived in time
	ErrAudioTimeout = errors.New("audio timeout")

	// ErrStreamFailed wraps any other stream-level backend failure
	ErrStreamFailed = errors.New("recognition stream failed")

	// ErrStreamClosed is returned when writing to a stream after CloseSend
	ErrStreamClosed = errors.New("recognition stream closed")
)

// RecognitionConfig holds the fixed recognition parameters for a stream or request
type RecognitionConfig struct {
	Encoding                   string
	SampleRateHertz            int
	LanguageCode               string
	Model                      string
	EnableAutomaticPunctuation bool
	UseEnhanced                bool
	MaxAlternatives            int
	ProfanityFilter            bool
	PhraseHints                []string
}

// DefaultRecognitionConfig returns the recognition settings used for browser-captured meeting audio
func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{
		Encoding:                   EncodingWebmOpus,
		SampleRateHertz:            48000,
		LanguageCode:               "en-US",
		Model:                      "latest_long",
		EnableAutomaticPunctuation: true,
		UseEnhanced:                true,
		MaxAlternatives:            1,
		PhraseHints:                []string{"meeting", "schedule", "discussion", "follow up", "action item"},
	}
}

// Event is a single transcript result or terminal error from a stream
type Event struct {
	Transcript string
	IsFinal    bool
	Err        error
}

// Stream is an open recognition stream. Events is closed once the backend ends the stream.
type Stream interface {
	Write(audio []byte) error
	CloseSend() error
	Events() <-chan Event
}

// Backend is a speech recognition service
type Backend interface {
	OpenStream(ctx context.Context, cfg RecognitionConfig) (Stream, error)
	RecognizeBatch(ctx context.Context, cfg RecognitionConfig, audio []byte) (string, error)
	RecognizeStreamFile(ctx context.Context, cfg RecognitionConfig, path string) (string, error)
	Close() error
}

// streamFile writes a file through an open stream and collects the final transcripts
func streamFile(ctx context.Context, stream Stream, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	type collected struct {
		text string
		err  error
	}
	done := make(chan collected, 1)

	go func() {
		var parts []string
		var streamErr error
		for ev := range stream.Events() {
			if ev.Err != nil {
				streamErr = ev.Err
				continue
			}
			if text := strings.TrimSpace(ev.Transcript); text != "" && ev.IsFinal {
				parts = append(parts, text)
			}
		}
		done <- collected{text: strings.Join(parts, "\n"), err: streamErr}
	}()

	buf := make([]byte, fileChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			stream.CloseSend()
			<-done
			return "", err
		}

		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if err := stream.Write(chunk); err != nil {
				stream.CloseSend()
				<-done
				return "", fmt.Errorf("write audio: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			stream.CloseSend()
			<-done
			return "", fmt.Errorf("read audio file: %w", readErr)
		}
	}

	if err := stream.CloseSend(); err != nil {
		<-done
		return "", fmt.Errorf("close stream: %w", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			return res.text, res.err
		}
		return res.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
