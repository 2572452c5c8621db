package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	gspeech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GoogleBackend recognizes speech with Google Cloud Speech-to-Text
type GoogleBackend struct {
	client *gspeech.Client
	logger *slog.Logger
}

// NewGoogleBackend creates a Cloud Speech client. An empty credentialsFile uses
// application default credentials.
func NewGoogleBackend(ctx context.Context, credentialsFile string, logger *slog.Logger) (*GoogleBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gspeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &GoogleBackend{client: client, logger: logger}, nil
}

// OpenStream opens a streaming recognition call and sends the recognition config
func (g *GoogleBackend) OpenStream(ctx context.Context, cfg RecognitionConfig) (Stream, error) {
	call, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	err = call.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: toProto(cfg),
			},
		},
	})
	if err != nil {
		call.CloseSend()
		return nil, classifyError(err)
	}

	s := &googleStream{
		call:   call,
		events: make(chan Event, 64),
		logger: g.logger,
	}
	go s.receive()

	return s, nil
}

// RecognizeBatch recognizes a complete recording in a single request
func (g *GoogleBackend) RecognizeBatch(ctx context.Context, cfg RecognitionConfig, audio []byte) (string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: toProto(cfg),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("recognize: %w", classifyError(err))
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		parts = append(parts, alts[0].GetTranscript())
	}
	return strings.Join(parts, "\n"), nil
}

// RecognizeStreamFile streams a stored recording through a recognition stream
func (g *GoogleBackend) RecognizeStreamFile(ctx context.Context, cfg RecognitionConfig, path string) (string, error) {
	stream, err := g.OpenStream(ctx, cfg)
	if err != nil {
		return "", err
	}
	return streamFile(ctx, stream, path)
}

// Close closes the underlying client
func (g *GoogleBackend) Close() error {
	return g.client.Close()
}

type googleStream struct {
	call   speechpb.Speech_StreamingRecognizeClient
	events chan Event
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *googleStream) Write(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}

	err := s.call.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: audio},
	})
	if err != nil {
		return classifyError(err)
	}
	return nil
}

func (s *googleStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.call.CloseSend()
}

func (s *googleStream) Events() <-chan Event {
	return s.events
}

func (s *googleStream) receive() {
	defer close(s.events)

	for {
		resp, err := s.call.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.events <- Event{Err: classifyError(err)}
			return
		}

		if st := resp.GetError(); st != nil && st.GetCode() != int32(codes.OK) {
			s.events <- Event{Err: classifyCode(codes.Code(st.GetCode()), st.GetMessage())}
			return
		}

		for _, result := range resp.GetResults() {
			alts := result.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			s.events <- Event{
				Transcript: alts[0].GetTranscript(),
				IsFinal:    result.GetIsFinal(),
			}
		}
	}
}

func toProto(cfg RecognitionConfig) *speechpb.RecognitionConfig {
	pc := &speechpb.RecognitionConfig{
		Encoding:                   encodingToProto(cfg.Encoding),
		SampleRateHertz:            int32(cfg.SampleRateHertz),
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		EnableAutomaticPunctuation: cfg.EnableAutomaticPunctuation,
		UseEnhanced:                cfg.UseEnhanced,
		MaxAlternatives:            int32(cfg.MaxAlternatives),
		ProfanityFilter:            cfg.ProfanityFilter,
	}
	if len(cfg.PhraseHints) > 0 {
		pc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: cfg.PhraseHints}}
	}
	return pc
}

func encodingToProto(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case EncodingWebmOpus:
		return speechpb.RecognitionConfig_WEBM_OPUS
	case EncodingOggOpus:
		return speechpb.RecognitionConfig_OGG_OPUS
	case EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16
	case EncodingFLAC:
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// classifyError maps gRPC status errors onto the package sentinels
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStreamFailed, err)
	}
	return classifyCode(st.Code(), st.Message())
}

func classifyCode(code codes.Code, msg string) error {
	switch code {
	case codes.OutOfRange:
		return fmt.Errorf("%w: %s", ErrAudioTimeout, msg)
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("%w: %s: %s", ErrStreamFailed, code, msg)
	}
}
