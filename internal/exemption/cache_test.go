package exemption

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dresswatch/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu    sync.Mutex
	docs  []model.ExemptionDoc
	err   error
	calls int
	block chan struct{}
}

func (f *fakeSource) ListExemptions(ctx context.Context) ([]model.ExemptionDoc, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	docs, err := f.docs, f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return docs, err
}

var labels = map[string]int{"Cap": 8, "Sleeveless": 7, "Shorts": 9}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 12, 0, 0, 0, time.UTC)
}

func TestRefreshKeepsActiveAllowedEntries(t *testing.T) {
	src := &fakeSource{docs: []model.ExemptionDoc{
		{ID: "a", Status: "Allowed", DressCode: "Cap", StartDate: "03-01-2025", EndDate: "03-05-2025"},
		{ID: "b", Status: "Pending", DressCode: "Shorts", StartDate: "03-01-2025", EndDate: "03-05-2025"},
		{ID: "c", Status: "Allowed", DressCode: "Sleeveless", StartDate: "bad", EndDate: "03-05-2025"},
		{ID: "d", Status: "Allowed", DressCode: "Hat", StartDate: "03-01-2025", EndDate: "03-05-2025"},
		{ID: "e", Status: "Allowed", DressCode: "Shorts", StartDate: "04-01-2025", EndDate: "04-05-2025"},
	}}
	c := NewCache(src, Options{Labels: labels, Location: time.UTC})

	require.NoError(t, c.Refresh(context.Background(), day(time.March, 3)))
	assert.True(t, c.IsExempt(8, day(time.March, 3)))
	assert.True(t, c.IsExempt(8, day(time.March, 5)))
	assert.False(t, c.IsExempt(8, day(time.March, 6)))
	assert.False(t, c.IsExempt(9, day(time.March, 3)))
	assert.False(t, c.IsExempt(7, day(time.March, 3)))

	active := c.Active(day(time.March, 3))
	require.Len(t, active, 1)
	assert.Equal(t, "Cap", active[0].Label)
}

func TestRefreshFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{docs: []model.ExemptionDoc{
		{ID: "a", Status: "Allowed", DressCode: "Cap", StartDate: "03-01-2025", EndDate: "03-05-2025"},
	}}
	var lastErr error
	c := NewCache(src, Options{Labels: labels, Location: time.UTC, OnRefresh: func(_ int, err error) { lastErr = err }})
	require.NoError(t, c.Refresh(context.Background(), day(time.March, 2)))

	src.mu.Lock()
	src.err = errors.New("store down")
	src.mu.Unlock()
	require.Error(t, c.Refresh(context.Background(), day(time.March, 3)))
	assert.Error(t, lastErr)
	assert.True(t, c.IsExempt(8, day(time.March, 3)))
}

func TestRefreshSkipsOverlap(t *testing.T) {
	src := &fakeSource{block: make(chan struct{})}
	c := NewCache(src, Options{Labels: labels, Location: time.UTC})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Refresh(context.Background(), day(time.March, 1))
	}()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Refresh(context.Background(), day(time.March, 1)))
	close(src.block)
	<-done

	src.mu.Lock()
	defer src.mu.Unlock()
	assert.Equal(t, 1, src.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, Options{Labels: labels, Interval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls >= 2
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}
