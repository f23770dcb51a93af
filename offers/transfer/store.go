package transfer

// bucketKey addresses the pending offers between one recipient/sender pair.
type bucketKey struct {
	recipient Account
	sender    Account
}

// bucket holds live offers for one (recipient, sender) pair. Identifiers are
// monotonically increasing and never reused, so they stay valid across any
// number of reentrant insertions and removals. Resolved offers are
// tombstoned by deleting them from live; the counter never rewinds.
type bucket struct {
	nextID uint64
	order  []uint64
	live   map[uint64]*Offer
}

// Store keeps pending offers bucketed by (recipient, sender) pair.
//
// Offers are addressed by stable identifier, never by position: a handler
// dispatched mid-creation may remove or add offers before the outer call
// returns, and positional indices would silently reattach to other offers.
type Store struct {
	buckets map[bucketKey]*bucket
	escrow  int64
}

// NewStore creates an empty offer store.
func NewStore() *Store {
	return &Store{buckets: make(map[bucketKey]*bucket)}
}

// Append records a pending offer and returns its identifier.
func (s *Store) Append(recipient, sender Account, offer Offer) uint64 {
	key := bucketKey{recipient: recipient, sender: sender}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{live: make(map[uint64]*Offer)}
		s.buckets[key] = b
	}

	id := b.nextID
	b.nextID++

	offer.ID = id
	offer.Sender = sender
	offer.Recipient = recipient

	b.live[id] = &offer
	b.order = append(b.order, id)
	s.escrow += offer.Amount

	return id
}

// Get returns the live offer with the given identifier.
func (s *Store) Get(recipient, sender Account, id uint64) (Offer, error) {
	b, ok := s.buckets[bucketKey{recipient: recipient, sender: sender}]
	if !ok {
		return Offer{}, NewDomainError(ErrorOfferNotFound, "id", "offer not found")
	}

	offer, ok := b.live[id]
	if !ok {
		return Offer{}, NewDomainError(ErrorOfferNotFound, "id", "offer not found")
	}

	return *offer, nil
}

// Remove tombstones the offer with the given identifier. A second removal of
// the same identifier fails, which makes resolution single-use.
func (s *Store) Remove(recipient, sender Account, id uint64) error {
	b, ok := s.buckets[bucketKey{recipient: recipient, sender: sender}]
	if !ok {
		return NewDomainError(ErrorOfferNotFound, "id", "offer not found")
	}

	offer, ok := b.live[id]
	if !ok {
		return NewDomainError(ErrorOfferNotFound, "id", "offer not found")
	}

	delete(b.live, id)
	s.escrow -= offer.Amount

	// Compact the append order once tombstones dominate it.
	if len(b.order) >= 16 && len(b.live)*2 < len(b.order) {
		compacted := b.order[:0]

		for _, liveID := range b.order {
			if _, alive := b.live[liveID]; alive {
				compacted = append(compacted, liveID)
			}
		}

		b.order = compacted
	}

	return nil
}

// CountLive returns the number of pending offers in the bucket.
func (s *Store) CountLive(recipient, sender Account) int {
	b, ok := s.buckets[bucketKey{recipient: recipient, sender: sender}]
	if !ok {
		return 0
	}

	return len(b.live)
}

// PendingIDs returns the identifiers of live offers in creation order.
func (s *Store) PendingIDs(recipient, sender Account) []uint64 {
	b, ok := s.buckets[bucketKey{recipient: recipient, sender: sender}]
	if !ok {
		return nil
	}

	ids := make([]uint64, 0, len(b.live))

	for _, id := range b.order {
		if _, alive := b.live[id]; alive {
			ids = append(ids, id)
		}
	}

	return ids
}

// EscrowTotal returns the sum of all pending offer amounts.
func (s *Store) EscrowTotal() int64 {
	return s.escrow
}
