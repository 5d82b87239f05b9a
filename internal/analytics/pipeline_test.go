package analytics_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplink/snaplink/internal/analytics"
	"github.com/snaplink/snaplink/internal/model"
	"github.com/snaplink/snaplink/internal/repository"
	"github.com/snaplink/snaplink/internal/testutil"
)

var (
	testDB    *testutil.TestDB
	testQueue *testutil.TestQueue
)

// TestMain sets up the test environment once for all tests
func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testutil.SetupTestDB(ctx)
	if err != nil {
		panic("failed to setup test database: " + err.Error())
	}

	testQueue, err = testutil.SetupTestQueue(ctx, "test_click_events")
	if err != nil {
		panic("failed to setup test queue: " + err.Error())
	}

	code := m.Run()

	testQueue.Teardown(ctx)
	testDB.Teardown(ctx)
	os.Exit(code)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPipeline_PublishAndConsume pushes click events through the real
// broker and asserts they land merged in daily_analytics.
func TestPipeline_PublishAndConsume(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testQueue.Cleanup(ctx)

	links := repository.NewLinkRepository(testDB.Pool)
	store := repository.NewAnalyticsRepository(testDB.Pool)

	link := &model.ShortLink{
		Code:           "pipe01",
		DestinationURL: "https://example.com/pipeline",
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	require.NoError(t, links.CreateWithInitialVersion(ctx, link))

	producer := analytics.NewProducer(testQueue.Channel, testQueue.QueueName, 16, discardLogger(), nil)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/pipe01", nil)
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/124.0")
		producer.Publish(analytics.NewClickEvent("pipe01", req, now))
	}
	producer.Close()

	consumer := analytics.NewConsumer(testQueue.Channel, testQueue.QueueName, store, links, discardLogger())
	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	go func() {
		if err := consumer.Run(runCtx); err != nil && runCtx.Err() == nil {
			t.Errorf("consumer stopped: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		rows, err := store.ListByCode(ctx, "pipe01")
		return err == nil && len(rows) == 1 && rows[0].TotalVisitCount == 3
	}, 8*time.Second, 100*time.Millisecond)
	cancel()

	rows, err := store.ListByCode(ctx, "pipe01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, now.Format("2006-01-02"), rows[0].AccessDate.Format("2006-01-02"))
	assert.Equal(t, int64(3), rows[0].BrowserVisitCounts["Chrome"])
	assert.Equal(t, int64(3), rows[0].DeviceVisitCounts["Desktop"])
}

// TestPipeline_UnknownCodeDropped verifies events for deleted links are
// acknowledged and discarded instead of requeued forever.
func TestPipeline_UnknownCodeDropped(t *testing.T) {
	ctx := context.Background()
	testDB.Cleanup(ctx)
	testQueue.Cleanup(ctx)

	links := repository.NewLinkRepository(testDB.Pool)
	store := repository.NewAnalyticsRepository(testDB.Pool)

	producer := analytics.NewProducer(testQueue.Channel, testQueue.QueueName, 4, discardLogger(), nil)
	req := httptest.NewRequest("GET", "/ghost1", nil)
	producer.Publish(analytics.NewClickEvent("ghost1", req, time.Now().UTC()))
	producer.Close()

	consumer := analytics.NewConsumer(testQueue.Channel, testQueue.QueueName, store, links, discardLogger())
	runCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = consumer.Run(runCtx)

	rows, err := store.ListByCode(ctx, "ghost1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// The queue is empty again; the event was not requeued.
	q, err := testQueue.Channel.QueueDeclarePassive(testQueue.QueueName, true, false, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, q.Messages)
}
