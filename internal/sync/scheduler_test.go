package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credsync/internal/credential/models"
	"credsync/internal/credential/store"
	"credsync/internal/evidence"
	"credsync/internal/provider"
)

func TestSchedulerTriggerAll(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	conn := &fakeConnector{
		providerID: models.ProviderNSDC,
		pages:      [][]provider.Record{{record("ext-1", day1)}},
	}
	svc := NewService(
		[]provider.Connector{conn},
		store.NewMemory(), store.NewMemoryWatermarks(), evidence.NewMemory(),
		Config{},
	)
	scheduler := NewScheduler(svc, time.Hour, nil)

	status := scheduler.Status()
	assert.False(t, status.Running)
	assert.Nil(t, status.LastSyncAt)

	results := scheduler.TriggerAll(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Created)

	status = scheduler.Status()
	assert.False(t, status.IsSyncing)
	require.NotNil(t, status.LastSyncAt)
	assert.Equal(t, results, status.LastResults)
}

type blockingConnector struct {
	fakeConnector
	release chan struct{}
}

func (b *blockingConnector) FetchPage(ctx context.Context, watermark time.Time, pageToken string) (provider.Page, error) {
	<-b.release
	return provider.Page{}, nil
}

func TestSchedulerSingleFlight(t *testing.T) {
	conn := &blockingConnector{
		fakeConnector: fakeConnector{providerID: models.ProviderNSDC},
		release:       make(chan struct{}),
	}
	svc := NewService(
		[]provider.Connector{conn},
		store.NewMemory(), store.NewMemoryWatermarks(), evidence.NewMemory(),
		Config{},
	)
	scheduler := NewScheduler(svc, time.Hour, nil)

	first := make(chan []Result)
	go func() {
		first <- scheduler.TriggerAll(context.Background())
	}()

	require.Eventually(t, func() bool {
		return scheduler.Status().IsSyncing
	}, time.Second, 5*time.Millisecond)

	// A second trigger while one is in flight is a no-op.
	assert.Nil(t, scheduler.TriggerAll(context.Background()))

	close(conn.release)
	require.Len(t, <-first, 1)
	assert.False(t, scheduler.Status().IsSyncing)
}
