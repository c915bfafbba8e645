// Package discovery implements the Discovery Service (C3): on first connect
// of a connector with no explicit point list, it runs the driver's browse/
// scan routine, caches the resulting catalog, and surfaces it to the control
// plane. It also implements the "promote" action that lifts selected
// discovery items into a connector's live configuration, which the caller
// (C7) uses to trigger a connector restart.
//
// The cache itself follows the teacher's guarded-global-state shape from
// coreengine/config/core_config.go (RWMutex-guarded get/set), scoped here to
// one catalog per source instead of one process-wide config.
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
)

// Store caches the most recent discovery catalog per source and runs new
// discovery sweeps on demand. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	catalogs map[string]*model.DiscoveryCatalog
}

// NewStore returns an empty discovery catalog cache.
func NewStore() *Store {
	return &Store{catalogs: make(map[string]*model.DiscoveryCatalog)}
}

// Run executes one discovery sweep for sourceID against discoverer, caches
// the result (replacing any prior catalog for that source), and returns it.
// A discovery error is recorded on the catalog rather than returned, so a
// failed sweep still produces a retrievable (empty, erroring) catalog.
func (s *Store) Run(ctx context.Context, sourceID string, discoverer driver.Discoverer) *model.DiscoveryCatalog {
	items, err := discoverer.Discover(ctx)

	catalog := &model.DiscoveryCatalog{
		SourceID:    sourceID,
		Items:       items,
		CollectedAt: time.Now().UTC(),
	}
	if err != nil {
		catalog.Error = err.Error()
	}

	s.mu.Lock()
	s.catalogs[sourceID] = catalog
	s.mu.Unlock()

	return catalog
}

// Catalog returns the most recently cached catalog for sourceID, if any.
func (s *Store) Catalog(sourceID string) (*model.DiscoveryCatalog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cat, ok := s.catalogs[sourceID]
	return cat, ok
}

// Clear drops the cached catalog for sourceID, e.g. after it has been
// promoted into the live config and is no longer "pending".
func (s *Store) Clear(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.catalogs, sourceID)
}

// RestartFunc is how Promote asks the caller (C7) to restart a connector
// after its config has absorbed newly promoted discovery items. Discovery
// itself never manages connector lifecycles.
type RestartFunc func(ctx context.Context, sourceID string) error

// Promoted is the subset of a cached catalog a control-plane "configure"
// action selected to become part of the connector's live point list.
type Promoted struct {
	SourceID string
	Items    []model.DiscoveryItem
}

// Promote selects nodeIDs out of sourceID's cached catalog (matching against
// DiscoveryItem.NodeID, or Topic for MQTT-style catalogs with no NodeID),
// then invokes restart so the caller can fold the selection into the
// connector's config and restart it with a non-empty point list. The
// promoted catalog entry is cleared on success, matching spec §4.3's
// "auto-promoted into the live point list" bullet.
func Promote(ctx context.Context, store *Store, sourceID string, nodeIDs []string, restart RestartFunc) (*Promoted, error) {
	catalog, ok := store.Catalog(sourceID)
	if !ok {
		return nil, fmt.Errorf("discovery: no catalog cached for source %s", sourceID)
	}

	wanted := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		wanted[id] = true
	}

	var selected []model.DiscoveryItem
	for _, item := range catalog.Items {
		key := item.NodeID
		if key == "" {
			key = item.Topic
		}
		if wanted[key] {
			selected = append(selected, item)
		}
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("discovery: none of the requested node ids matched source %s's catalog", sourceID)
	}

	if restart != nil {
		if err := restart(ctx, sourceID); err != nil {
			return nil, fmt.Errorf("discovery: restart after promote failed: %w", err)
		}
	}

	store.Clear(sourceID)

	return &Promoted{SourceID: sourceID, Items: selected}, nil
}
