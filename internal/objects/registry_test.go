package objects

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubLister struct {
	calls atomic.Int32
	names []string
	err   error
	delay time.Duration
}

func (s *stubLister) ListObjects(context.Context) ([]string, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.names, s.err
}

func TestNamesMergesSeedsListingAndLocal(t *testing.T) {
	lister := &stubLister{names: []string{"Склад", "Школа", "Квартира"}}
	reg := NewRegistry(lister, []string{"Квартира", "Офис"}, Config{})

	_, err := reg.Add("  Баня ")
	require.NoError(t, err)
	_, err = reg.Add("Баня")
	require.NoError(t, err)

	got := reg.Names(context.Background())
	require.Equal(t, []string{"Квартира", "Офис", "Баня", "Склад", "Школа"}, got)
}

func TestNamesCachesListing(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	lister := &stubLister{names: []string{"Склад"}}
	reg := NewRegistry(lister, nil, Config{RefreshInterval: time.Minute, Now: func() time.Time { return now }})

	reg.Names(context.Background())
	reg.Names(context.Background())
	require.Equal(t, int32(1), lister.calls.Load())

	now = now.Add(2 * time.Minute)
	reg.Names(context.Background())
	require.Equal(t, int32(2), lister.calls.Load())

	reg.Invalidate()
	reg.Names(context.Background())
	require.Equal(t, int32(3), lister.calls.Load())
}

func TestNamesSurvivesStoreFailure(t *testing.T) {
	lister := &stubLister{err: errors.New("quota")}
	reg := NewRegistry(lister, []string{"Офис"}, Config{})
	require.Equal(t, []string{"Офис"}, reg.Names(context.Background()))
}

func TestConcurrentRefreshIsCoalesced(t *testing.T) {
	lister := &stubLister{names: []string{"Склад"}, delay: 50 * time.Millisecond}
	reg := NewRegistry(lister, nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Names(context.Background())
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, lister.calls.Load(), int32(2))
}

func TestAddValidatesName(t *testing.T) {
	reg := NewRegistry(nil, nil, Config{})
	_, err := reg.Add("   ")
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = reg.Add(strings.Repeat("я", MaxNameLength+1))
	require.ErrorIs(t, err, ErrInvalidName)
	name, err := reg.Add(strings.Repeat("я", MaxNameLength))
	require.NoError(t, err)
	require.Len(t, []rune(name), MaxNameLength)
}
