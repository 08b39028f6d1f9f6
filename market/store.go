package market

import (
	"errors"
	"fmt"
	"sync"

	"tradepost/storage"
)

// ErrListingNotFound is returned when a listing id has never been assigned.
var ErrListingNotFound = errors.New("market: listing not found")

// Store is the ordered, append-only collection of listings. Ids are a
// monotonic sequence starting at 1 and are never reused; records are indexed
// directly by sequence number. The store owns the listing entities: callers
// always receive clones.
type Store struct {
	mu       sync.RWMutex
	listings []*Listing
	db       storage.Database
}

// NewStore builds a listing store. A nil database disables persistence.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Load restores persisted listings. Records are stored under their sequence
// number, so restoring walks 1..count with no iteration support needed from
// the backend.
func (s *Store) Load() error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count, err := loadCount(s.db)
	if err != nil {
		return err
	}
	listings := make([]*Listing, 0, count)
	for id := uint64(1); id <= count; id++ {
		listing, err := loadListing(s.db, id)
		if err != nil {
			return fmt.Errorf("market: restore listing %d: %w", id, err)
		}
		listings = append(listings, listing)
	}
	s.listings = listings
	return nil
}

// Append assigns the next sequence id to the listing and persists it. The
// assigned id is returned.
func (s *Store) Append(l *Listing) (uint64, error) {
	if l == nil {
		return 0, fmt.Errorf("market: nil listing")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uint64(len(s.listings)) + 1
	clone := l.Clone()
	clone.ID = id
	sanitized, err := SanitizeListing(clone)
	if err != nil {
		return 0, err
	}
	if s.db != nil {
		if err := persistListing(s.db, sanitized); err != nil {
			return 0, err
		}
		if err := persistCount(s.db, id); err != nil {
			return 0, err
		}
	}
	s.listings = append(s.listings, sanitized)
	return id, nil
}

// Put replaces the stored record for an existing listing id.
func (s *Store) Put(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := int(sanitized.ID) - 1
	if idx < 0 || idx >= len(s.listings) {
		return ErrListingNotFound
	}
	if s.db != nil {
		if err := persistListing(s.db, sanitized); err != nil {
			return err
		}
	}
	s.listings[idx] = sanitized
	return nil
}

// Get returns a clone of the listing with the supplied id.
func (s *Store) Get(id uint64) (*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := int(id) - 1
	if id == 0 || idx >= len(s.listings) {
		return nil, ErrListingNotFound
	}
	return s.listings[idx].Clone(), nil
}

// All returns clones of every listing in id order.
func (s *Store) All() []*Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Listing, 0, len(s.listings))
	for _, l := range s.listings {
		out = append(out, l.Clone())
	}
	return out
}

// Count returns the number of listings ever created.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.listings))
}
