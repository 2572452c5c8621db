package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
)

// backends returns every store reachable from the test environment
func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	stores := map[string]Store{
		"memory": NewMemory(),
	}

	sqlite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "meetings.sqlite"))
	require.NoError(t, err)
	stores["sqlite"] = sqlite

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		prefix := "test:" + t.Name() + ":" + time.Now().Format("150405.000000") + ":"
		stores["redis"] = NewRedisFromClient(client, prefix)
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		pg, err := OpenPostgres(ctx, url)
		if err != nil {
			t.Logf("skipping postgres: %v", err)
		} else {
			_, _ = pg.pool.Exec(ctx, `DELETE FROM meetings WHERE id LIKE 'test-%'`)
			stores["postgres"] = pg
		}
	}

	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rec := &meeting.Record{ID: "test-create", Title: "Weekly sync", Date: &start}
			require.NoError(t, s.Create(ctx, rec))

			got, err := s.Get(ctx, "test-create")
			require.NoError(t, err)
			assert.Equal(t, "Weekly sync", got.Title)
			require.NotNil(t, got.Date)
			assert.True(t, start.Equal(*got.Date))

			err = s.Create(ctx, rec)
			assert.ErrorIs(t, err, ErrExists)
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "test-missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUpdateMergesFields(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, &meeting.Record{ID: "test-update", Title: "Standup"}))

			err := s.Update(ctx, "test-update", Fields{
				meeting.FieldSummary:            "Discussed launch",
				meeting.FieldProcessingComplete: true,
			})
			require.NoError(t, err)

			got, err := s.Get(ctx, "test-update")
			require.NoError(t, err)
			assert.Equal(t, "Standup", got.Title)
			assert.Equal(t, "Discussed launch", got.Summary)
			assert.True(t, got.ProcessingComplete)

			err = s.Update(ctx, "test-update-missing", Fields{meeting.FieldSummary: "x"})
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRunTransactionCreatesMissingRecord(t *testing.T) {
	ctx := context.Background()

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.RunTransaction(ctx, "test-tx", func(rec *meeting.Record) (Fields, error) {
				assert.Nil(t, rec)
				return Fields{meeting.FieldTranscript: []string{"hello"}}, nil
			})
			require.NoError(t, err)

			got, err := s.Get(ctx, "test-tx")
			require.NoError(t, err)
			assert.Equal(t, "test-tx", got.ID)
			assert.Equal(t, []string{"hello"}, got.Transcript)

			// nil fields leave the document untouched
			err = s.RunTransaction(ctx, "test-tx", func(rec *meeting.Record) (Fields, error) {
				require.NotNil(t, rec)
				return nil, nil
			})
			require.NoError(t, err)

			got, err = s.Get(ctx, "test-tx")
			require.NoError(t, err)
			assert.Equal(t, []string{"hello"}, got.Transcript)
		})
	}
}

func TestRunTransactionConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	const writers = 20

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := s.RunTransaction(ctx, "test-concurrent", func(rec *meeting.Record) (Fields, error) {
						var transcript []string
						if rec != nil {
							transcript = append(transcript, rec.Transcript...)
						}
						transcript = append(transcript, time.Duration(i).String())
						return Fields{meeting.FieldTranscript: transcript}, nil
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			got, err := s.Get(ctx, "test-concurrent")
			require.NoError(t, err)
			assert.Len(t, got.Transcript, writers)
		})
	}
}

func TestArrayUnionSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	first := meeting.ActionItem{What: "Book venue", Who: "Jessica", When: "Friday", Status: "Pending"}
	second := meeting.ActionItem{What: "Draft post", Who: "Aryn", When: "N/A", Status: "Pending"}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Create(ctx, &meeting.Record{
				ID:          "test-union",
				ActionItems: []meeting.ActionItem{first},
			}))

			err := s.ArrayUnion(ctx, "test-union", meeting.FieldActionItems, first, second, second)
			require.NoError(t, err)

			got, err := s.Get(ctx, "test-union")
			require.NoError(t, err)
			assert.Equal(t, []meeting.ActionItem{first, second}, got.ActionItems)

			err = s.ArrayUnion(ctx, "test-union-missing", meeting.FieldActionItems, first)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "firestore"})
	assert.Error(t, err)
}
