package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
)

func testRecord() *meeting.Record {
	start := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)
	return &meeting.Record{ID: "m-1", Title: "Ops review", Date: &start}
}

func testItems() []meeting.ActionItem {
	return []meeting.ActionItem{{What: "Book flights", Who: "Shawn", When: "Monday", Status: "Pending"}}
}

func TestNewAddsSecondarySuffix(t *testing.T) {
	primary := New(testRecord(), "summary", testItems(), false)
	assert.Equal(t, "Ops review", primary.MeetingTitle)
	assert.NotEmpty(t, primary.EventID)
	assert.NotEmpty(t, primary.MeetingDateTime)

	secondary := New(testRecord(), "summary", nil, true)
	assert.Equal(t, "Ops review - Secondary Processing", secondary.MeetingTitle)
	assert.True(t, secondary.IsSecondary)
	assert.NotNil(t, secondary.ActionItems)
	assert.NotEqual(t, primary.EventID, secondary.EventID)
}

func TestWebhookPostsCallablePayload(t *testing.T) {
	var got struct {
		Data Notification `json:"data"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(testRecord(), "We shipped.", testItems(), false)
	require.NoError(t, NewWebhook(srv.URL, "secret", time.Second).Notify(context.Background(), n))

	assert.Equal(t, "Ops review", got.Data.MeetingTitle)
	assert.Equal(t, "We shipped.", got.Data.Summary)
	assert.Equal(t, testItems(), got.Data.ActionItems)
}

func TestWebhookReportsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "", time.Second).Notify(context.Background(), New(testRecord(), "", nil, false))
	assert.ErrorContains(t, err, "502")
}

func TestDocxMinutesWritesFile(t *testing.T) {
	minutes := NewDocxMinutes(t.TempDir())
	n := New(testRecord(), "Discussed travel.", testItems(), true)

	require.NoError(t, minutes.Notify(context.Background(), n))

	info, err := os.Stat(minutes.Path("m-1", true))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Notification) error { return f.err }

type countingNotifier struct{ calls int }

func (c *countingNotifier) Notify(context.Context, Notification) error {
	c.calls++
	return nil
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	counter := &countingNotifier{}
	boom := errors.New("boom")
	multi := Multi{failingNotifier{err: boom}, counter, Nop{}}

	err := multi.Notify(context.Background(), New(testRecord(), "", nil, false))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, counter.calls)
}

func TestRedisPublisher(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	sub := client.Subscribe(ctx, ChannelMeetingProcessed)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	n := New(testRecord(), "Published summary", testItems(), false)
	require.NoError(t, NewRedisPublisher(client, "").Notify(ctx, n))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var event MeetingProcessedEvent
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
	assert.Equal(t, "meeting.processed", event.EventType)
	assert.Equal(t, "Published summary", event.Summary)
	assert.Equal(t, n.EventID, event.EventID)
}
