package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
	"github.com/max-knox/PashaCapacitor-sub000/internal/store"
)

func newTestAggregator() (*Aggregator, *store.Memory) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.NewMemory()
	return NewAggregator(st, logger, nil), st
}

func TestAppendSkipsRepeatOfLastFragment(t *testing.T) {
	ctx := context.Background()
	agg, st := newTestAggregator()
	require.NoError(t, st.Create(ctx, &meeting.Record{ID: "m1", Title: "Standup"}))

	steps := []struct {
		fragment string
		appended bool
	}{
		{"Hello team", true},
		{"  Hello team  ", false},
		{"Let's start", true},
		{"Hello team", true},
		{"   ", false},
	}

	for _, step := range steps {
		ok, err := agg.Append(ctx, "m1", step.fragment)
		require.NoError(t, err)
		assert.Equal(t, step.appended, ok, "fragment %q", step.fragment)
	}

	rec, err := st.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello team", "Let's start", "Hello team"}, rec.Transcript)
	assert.Equal(t, "Standup", rec.Title)
}

func TestAppendCreatesMissingRecord(t *testing.T) {
	ctx := context.Background()
	agg, st := newTestAggregator()

	ok, err := agg.Append(ctx, "new-meeting", "First words")
	require.NoError(t, err)
	assert.True(t, ok)

	text, err := agg.Text(ctx, "new-meeting")
	require.NoError(t, err)
	assert.Equal(t, "First words", text)
	assert.Equal(t, 1, st.Len())
}

func TestAppendConcurrentIdenticalFragments(t *testing.T) {
	ctx := context.Background()
	agg, st := newTestAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := agg.Append(ctx, "m2", "same words")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := st.Get(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, []string{"same words"}, rec.Transcript)
}

func TestAppendPreservesOrder(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator()

	var want []string
	for i := 0; i < 5; i++ {
		fragment := fmt.Sprintf("fragment %d", i)
		want = append(want, fragment)
		_, err := agg.Append(ctx, "m3", fragment)
		require.NoError(t, err)
	}

	text, err := agg.Text(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, want[0]+"\n"+want[1]+"\n"+want[2]+"\n"+want[3]+"\n"+want[4], text)
}
