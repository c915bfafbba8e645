package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

type fakeDiscoverer struct {
	items []model.DiscoveryItem
	err   error
}

func (f *fakeDiscoverer) Discover(ctx context.Context) ([]model.DiscoveryItem, error) {
	return f.items, f.err
}

func TestRunCachesCatalog(t *testing.T) {
	s := NewStore()
	fd := &fakeDiscoverer{items: []model.DiscoveryItem{{NodeID: "ns=2;i=10", BrowseName: "Temp"}}}

	cat := s.Run(context.Background(), "src-1", fd)
	require.Len(t, cat.Items, 1)
	assert.Equal(t, "src-1", cat.SourceID)
	assert.Empty(t, cat.Error)

	got, ok := s.Catalog("src-1")
	require.True(t, ok)
	assert.Same(t, cat, got)
}

func TestRunRecordsErrorWithoutFailing(t *testing.T) {
	s := NewStore()
	fd := &fakeDiscoverer{err: errors.New("scan timeout")}

	cat := s.Run(context.Background(), "src-1", fd)
	assert.Equal(t, "scan timeout", cat.Error)
	assert.Empty(t, cat.Items)

	_, ok := s.Catalog("src-1")
	assert.True(t, ok, "a failed sweep still produces a retrievable catalog")
}

func TestCatalogMissingSourceIsNotOK(t *testing.T) {
	s := NewStore()
	_, ok := s.Catalog("nonexistent")
	assert.False(t, ok)
}

func TestClearDropsCatalog(t *testing.T) {
	s := NewStore()
	s.Run(context.Background(), "src-1", &fakeDiscoverer{items: []model.DiscoveryItem{{NodeID: "n1"}}})
	s.Clear("src-1")

	_, ok := s.Catalog("src-1")
	assert.False(t, ok)
}

func TestPromoteSelectsMatchingItemsAndRestarts(t *testing.T) {
	s := NewStore()
	s.Run(context.Background(), "src-1", &fakeDiscoverer{items: []model.DiscoveryItem{
		{NodeID: "n1", BrowseName: "Temp"},
		{NodeID: "n2", BrowseName: "Pressure"},
		{NodeID: "n3", BrowseName: "Humidity"},
	}})

	var restarted string
	restart := func(ctx context.Context, sourceID string) error {
		restarted = sourceID
		return nil
	}

	promoted, err := Promote(context.Background(), s, "src-1", []string{"n1", "n3"}, restart)
	require.NoError(t, err)
	assert.Equal(t, "src-1", restarted)
	require.Len(t, promoted.Items, 2)
	assert.ElementsMatch(t, []string{"n1", "n3"}, []string{promoted.Items[0].NodeID, promoted.Items[1].NodeID})

	_, ok := s.Catalog("src-1")
	assert.False(t, ok, "promote clears the pending catalog on success")
}

func TestPromoteMatchesTopicWhenNodeIDEmpty(t *testing.T) {
	s := NewStore()
	s.Run(context.Background(), "mqtt-src", &fakeDiscoverer{items: []model.DiscoveryItem{
		{Topic: "plant/line1/temp"},
		{Topic: "plant/line1/pressure"},
	}})

	promoted, err := Promote(context.Background(), s, "mqtt-src", []string{"plant/line1/temp"}, nil)
	require.NoError(t, err)
	require.Len(t, promoted.Items, 1)
	assert.Equal(t, "plant/line1/temp", promoted.Items[0].Topic)
}

func TestPromoteErrorsWithoutCachedCatalog(t *testing.T) {
	s := NewStore()
	_, err := Promote(context.Background(), s, "src-1", []string{"n1"}, nil)
	assert.Error(t, err)
}

func TestPromoteErrorsWhenNoNodesMatch(t *testing.T) {
	s := NewStore()
	s.Run(context.Background(), "src-1", &fakeDiscoverer{items: []model.DiscoveryItem{{NodeID: "n1"}}})

	_, err := Promote(context.Background(), s, "src-1", []string{"does-not-exist"}, nil)
	assert.Error(t, err)
}

func TestPromotePropagatesRestartFailure(t *testing.T) {
	s := NewStore()
	s.Run(context.Background(), "src-1", &fakeDiscoverer{items: []model.DiscoveryItem{{NodeID: "n1"}}})

	restart := func(ctx context.Context, sourceID string) error {
		return errors.New("connector busy")
	}

	_, err := Promote(context.Background(), s, "src-1", []string{"n1"}, restart)
	require.Error(t, err)

	_, ok := s.Catalog("src-1")
	assert.True(t, ok, "catalog stays cached when restart fails so the action can be retried")
}
