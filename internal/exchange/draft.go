package exchange

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Selection is the working entry seeded when an operator picks a catalog
// line. Quantity starts at zero and is operator-entered before commit.
type Selection struct {
	Key         LineKey    `json:"key"`
	ProductName string     `json:"product_name"`
	Expiry      *time.Time `json:"expiry,omitempty"`
	Quantity    float64    `json:"quantity"`
	MaxQuantity float64    `json:"max_quantity"`
}

// Draft is one in-progress exchange document: header fields, the catalog
// snapshot it selects from and the accumulated detail lines. Nothing in a
// draft touches the backend until the saga registers it.
type Draft struct {
	ID              string         `json:"id"`
	Header          ExchangeHeader `json:"header"`
	Details         []DetailLine   `json:"details"`
	State           State          `json:"state"`
	LastStep        Step           `json:"last_step,omitempty"`
	RemissionNumber string         `json:"remission_number,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Snapshot        *Snapshot      `json:"-"`

	mu sync.Mutex
}

// Select seeds a Selection from a catalog line, capturing the available
// quantity as the capacity bound for that line's key.
func (d *Draft) Select(line ReturnableLine) Selection {
	return Selection{
		Key:         line.Key(),
		ProductName: line.ProductName,
		Expiry:      line.Expiry,
		Quantity:    0,
		MaxQuantity: line.AvailableQuantity,
	}
}

// Commit folds a selection into the detail set. Selections sharing the full
// composite key merge by summing quantities; the merged total must never
// exceed the captured maximum. On any rejection the detail set is unchanged.
func (d *Draft) Commit(sel Selection) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.editable() {
		return ErrDraftImmutable
	}
	if sel.Quantity <= 0 {
		return ErrInvalidQuantity
	}

	for i := range d.Details {
		if d.Details[i].Key != sel.Key {
			continue
		}
		newTotal := d.Details[i].Quantity + sel.Quantity
		if newTotal > d.Details[i].MaxQuantity {
			return &CapacityError{Key: sel.Key, Attempted: newTotal, Max: d.Details[i].MaxQuantity}
		}
		d.Details[i].Quantity = newTotal
		return nil
	}

	if sel.Quantity > sel.MaxQuantity {
		return &CapacityError{Key: sel.Key, Attempted: sel.Quantity, Max: sel.MaxQuantity}
	}
	d.Details = append(d.Details, DetailLine{
		ID:          uuid.NewString(),
		Key:         sel.Key,
		ProductName: sel.ProductName,
		Expiry:      sel.Expiry,
		Quantity:    sel.Quantity,
		MaxQuantity: sel.MaxQuantity,
	})
	return nil
}

// EditQuantity replaces the quantity on an already-added line. The full
// capacity check runs again against the line's captured maximum.
func (d *Draft) EditQuantity(detailID string, quantity float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.editable() {
		return ErrDraftImmutable
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	for i := range d.Details {
		if d.Details[i].ID != detailID {
			continue
		}
		if d.Details[i].Orphaned {
			return ErrOrphanedLine
		}
		if quantity > d.Details[i].MaxQuantity {
			return &CapacityError{Key: d.Details[i].Key, Attempted: quantity, Max: d.Details[i].MaxQuantity}
		}
		d.Details[i].Quantity = quantity
		return nil
	}
	return ErrLineNotFound
}

// Remove drops one detail line prior to saga commit.
func (d *Draft) Remove(detailID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.editable() {
		return ErrDraftImmutable
	}
	for i := range d.Details {
		if d.Details[i].ID == detailID {
			d.Details = append(d.Details[:i], d.Details[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

// Rebind swaps in a refreshed snapshot and re-resolves every detail line by
// its non-positional identity: ordinals and capacity bounds are taken from
// the new snapshot, and lines whose source vanished are flagged Orphaned
// instead of keeping a stale bound.
func (d *Draft) Rebind(snapshot *Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Snapshot = snapshot
	for i := range d.Details {
		line, ok := snapshot.FindByIdentity(d.Details[i].Key.Identity())
		if !ok {
			d.Details[i].Orphaned = true
			continue
		}
		d.Details[i].Orphaned = false
		d.Details[i].Key.OrdinalIndex = line.OrdinalIndex
		d.Details[i].MaxQuantity = line.AvailableQuantity
	}
}

// DetailLines returns a copy of the accumulated detail set.
func (d *Draft) DetailLines() []DetailLine {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DetailLine, len(d.Details))
	copy(out, d.Details)
	return out
}

// TotalQuantity sums the detail quantities.
func (d *Draft) TotalQuantity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var total float64
	for _, line := range d.Details {
		total += line.Quantity
	}
	return total
}

// editable reports whether the draft still accepts aggregation changes.
// Once the saga starts the detail set is frozen.
func (d *Draft) editable() bool {
	return d.State == StateDraft
}

// DraftStore holds in-progress drafts in memory. Drafts are ephemeral: the
// saga, not the draft, owns all durable state, and an abandoned draft before
// header commit has no backend effect.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]*Draft
}

// NewDraftStore creates an empty store.
func NewDraftStore() *DraftStore {
	return &DraftStore{drafts: make(map[string]*Draft)}
}

// Create registers a new draft for a laboratory snapshot.
func (s *DraftStore) Create(header ExchangeHeader, snapshot *Snapshot) *Draft {
	draft := &Draft{
		ID:        uuid.NewString(),
		Header:    header,
		State:     StateDraft,
		CreatedAt: time.Now(),
		Snapshot:  snapshot,
	}
	s.mu.Lock()
	s.drafts[draft.ID] = draft
	s.mu.Unlock()
	return draft
}

// Get returns a draft by ID.
func (s *DraftStore) Get(id string) (*Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return draft, nil
}

// Delete drops a draft, used on completion or abandonment.
func (s *DraftStore) Delete(id string) {
	s.mu.Lock()
	delete(s.drafts, id)
	s.mu.Unlock()
}
