package listener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech"
	"github.com/max-knox/PashaCapacitor-sub000/internal/speech/speechtest"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
	"github.com/max-knox/PashaCapacitor-sub000/internal/stream"
	"github.com/max-knox/PashaCapacitor-sub000/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type summarizerCall struct {
	meetingID  string
	transcript string
	secondary  bool
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls []summarizerCall
	err   error

	// store, when set, captures the stored transcript each run would summarize
	store  store.Store
	stored [][]string
}

func (f *fakeSummarizer) Run(ctx context.Context, meetingID, transcript string, secondary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, summarizerCall{meetingID, transcript, secondary})
	if f.store != nil {
		if rec, err := f.store.Get(ctx, meetingID); err == nil {
			f.stored = append(f.stored, append([]string(nil), rec.Transcript...))
		}
	}
	return f.err
}

type fakeSecondary struct {
	meetingID string
	ref       string
	err       error
}

func (f *fakeSecondary) Process(_ context.Context, meetingID, audioRef string) error {
	f.meetingID, f.ref = meetingID, audioRef
	return f.err
}

type fixture struct {
	backend    *speechtest.Backend
	store      *store.Memory
	registry   *stream.Registry
	summarizer *fakeSummarizer
	secondary  *fakeSecondary
	service    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, nil)
}

func newFixtureWithConfig(t *testing.T, configure func(*stream.Config)) *fixture {
	t.Helper()

	cfg := stream.DefaultConfig()
	cfg.KeepAliveInterval = time.Hour
	cfg.FinalizeTimeout = 200 * time.Millisecond
	cfg.ReapAfter = 0
	if configure != nil {
		configure(&cfg)
	}

	fx := &fixture{
		backend:    &speechtest.Backend{},
		store:      store.NewMemory(),
		summarizer: &fakeSummarizer{},
		secondary:  &fakeSecondary{},
	}
	agg := transcript.NewAggregator(fx.store, testLogger(), nil)
	ctrl := stream.NewController(fx.backend, agg, cfg, testLogger(), nil)
	fx.registry = stream.NewRegistry(ctrl, testLogger(), nil)
	t.Cleanup(func() {
		fx.registry.Stop()
		ctrl.Close()
	})

	fx.service = NewService(fx.registry, ctrl, fx.store, fx.summarizer, fx.secondary, testLogger())
	return fx
}

func chunk(meetingID, audio string, last bool) ChunkRequest {
	return ChunkRequest{
		MeetingID:    meetingID,
		AudioContent: base64.StdEncoding.EncodeToString([]byte(audio)),
		IsLastChunk:  last,
	}
}

func TestHandleChunkStreamsAudio(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	msg, err := fx.service.Handle(ctx, chunk("m1", "audio-1", false))
	require.NoError(t, err)
	assert.Equal(t, MessageChunkReceived, msg)

	msg, err = fx.service.Handle(ctx, chunk("m1", "audio-2", false))
	require.NoError(t, err)
	assert.Equal(t, MessageChunkReceived, msg)

	streams := fx.backend.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, [][]byte{[]byte("audio-1"), []byte("audio-2")}, streams[0].Writes())
	assert.Equal(t, 1, fx.registry.Count())
}

func TestHandleLastChunkFinalizesAndSummarizes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	start := time.Now().Add(-10 * time.Minute)
	require.NoError(t, fx.store.Create(ctx, &meeting.Record{ID: "m1", Date: &start}))

	_, err := fx.service.Handle(ctx, chunk("m1", "audio-1", false))
	require.NoError(t, err)
	fx.backend.Streams()[0].Emit("hello team")

	msg, err := fx.service.Handle(ctx, ChunkRequest{MeetingID: "m1", IsLastChunk: true})
	require.NoError(t, err)
	assert.Equal(t, MessageCompleted, msg)

	assert.True(t, fx.backend.Streams()[0].Closed())
	assert.Zero(t, fx.registry.Count())

	rec, err := fx.store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.NotNil(t, rec.EndTime)
	assert.Equal(t, []string{"hello team"}, rec.Transcript)

	require.Len(t, fx.summarizer.calls, 1)
	assert.Equal(t, summarizerCall{meetingID: "m1"}, fx.summarizer.calls[0])
}

func TestHandleLastChunkWaitsForStreamTail(t *testing.T) {
	tests := []struct {
		name       string
		inactivity time.Duration
	}{
		{"healthy session", time.Hour},
		{"session flagged by inactivity", 20 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixtureWithConfig(t, func(cfg *stream.Config) {
				cfg.InactivityTimeout = tt.inactivity
			})
			fx.summarizer.store = fx.store
			fx.backend.OnCloseSend = func(s *speechtest.Stream) {
				time.Sleep(30 * time.Millisecond)
				s.Emit("tail of meeting")
			}
			ctx := context.Background()
			require.NoError(t, fx.store.Create(ctx, &meeting.Record{ID: "m1"}))

			_, err := fx.service.Handle(ctx, chunk("m1", "audio-1", false))
			require.NoError(t, err)

			session, ok := fx.registry.Get("m1")
			require.True(t, ok)
			if tt.inactivity < time.Second {
				require.Eventually(t, func() bool {
					return session.State() == stream.StateErrorFlagged
				}, time.Second, 5*time.Millisecond)
			}

			msg, err := fx.service.Handle(ctx, ChunkRequest{MeetingID: "m1", IsLastChunk: true})
			require.NoError(t, err)
			assert.Equal(t, MessageCompleted, msg)

			require.Len(t, fx.summarizer.stored, 1)
			assert.Equal(t, []string{"tail of meeting"}, fx.summarizer.stored[0])
			assert.Empty(t, fx.registry.TakeDisplaced("m1"))
			assert.Zero(t, fx.registry.Count())
		})
	}
}

func TestHandleLastChunkWithoutRecord(t *testing.T) {
	fx := newFixture(t)

	msg, err := fx.service.Handle(context.Background(), ChunkRequest{MeetingID: "ghost", IsLastChunk: true})
	require.NoError(t, err)
	assert.Equal(t, MessageCompleted, msg)
	assert.Empty(t, fx.summarizer.calls)
}

func TestHandleChunkValidation(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		req  ChunkRequest
	}{
		{"missing meeting id", ChunkRequest{AudioContent: "YQ=="}},
		{"no audio and not last", ChunkRequest{MeetingID: "m1"}},
		{"invalid base64", ChunkRequest{MeetingID: "m1", AudioContent: "%%%"}},
		{"secondary without url", ChunkRequest{MeetingID: "m1", IsSecondaryProcessing: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.service.Handle(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.False(t, Retryable(err))
		})
	}
	assert.Empty(t, fx.backend.Streams())
}

func TestHandleChunkWriteFailureIsRetryable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.service.Handle(ctx, chunk("m1", "audio-1", false))
	require.NoError(t, err)
	fx.backend.Streams()[0].FailWrites(errors.New("broken pipe"))

	_, err = fx.service.Handle(ctx, chunk("m1", "audio-2", false))
	require.Error(t, err)
	assert.True(t, Retryable(err))

	// the retry lands on a fresh stream
	msg, err := fx.service.Handle(ctx, chunk("m1", "audio-2", false))
	require.NoError(t, err)
	assert.Equal(t, MessageChunkReceived, msg)

	streams := fx.backend.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, [][]byte{[]byte("audio-2")}, streams[1].Writes())
}

func TestHandleSecondary(t *testing.T) {
	fx := newFixture(t)

	msg, err := fx.service.Handle(context.Background(), ChunkRequest{
		MeetingID:             "m1",
		IsSecondaryProcessing: true,
		SecondaryAudioURL:     "recordings/m1.webm",
		RetryCount:            2,
		ClientTimestamp:       time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	assert.Equal(t, MessageSecondaryCompleted, msg)
	assert.Equal(t, "m1", fx.secondary.meetingID)
	assert.Equal(t, "recordings/m1.webm", fx.secondary.ref)
	assert.Empty(t, fx.backend.Streams())
}

func TestHandleSecondaryFailure(t *testing.T) {
	fx := newFixture(t)
	fx.secondary.err = errors.New("download failed")

	_, err := fx.service.Handle(context.Background(), ChunkRequest{
		MeetingID:             "m1",
		IsSecondaryProcessing: true,
		SecondaryAudioURL:     "x",
	})
	assert.ErrorContains(t, err, "secondary processing failed: download failed")
	assert.False(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&stream.StreamError{MeetingID: "m", Retryable: true, Err: stream.ErrStreamUnavailable}))
	assert.False(t, Retryable(&stream.StreamError{MeetingID: "m", Retryable: false, Err: errors.New("x")}))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", speech.ErrAudioTimeout)))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.False(t, Retryable(errors.New("other")))
}
