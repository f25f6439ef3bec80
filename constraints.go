package numindex

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hupe1980/numindex/layout"
)

// PropertyAccessor reads the current property value of an entity.
type PropertyAccessor interface {
	// PropertyValue returns the value, or ok == false if the entity no
	// longer has one.
	PropertyValue(entityID uint64) (v layout.Number, ok bool, err error)
}

// PropertyAccessorFunc adapts a function to PropertyAccessor.
type PropertyAccessorFunc func(entityID uint64) (layout.Number, bool, error)

func (f PropertyAccessorFunc) PropertyValue(entityID uint64) (layout.Number, bool, error) {
	return f(entityID)
}

// VerifyDeferredConstraints checks a unique index for entities sharing a
// value. Index entries can be stale, so each candidate is re-read through
// pa; only entities whose current value still collides are reported, all in
// one *ConflictError.
//
// Non-unique indexes carry no constraint to verify: the call fails with
// *UnsupportedOperationError.
func (a *Accessor) VerifyDeferredConstraints(pa PropertyAccessor) error {
	a.mu.RLock()
	if a.state != stateOpen {
		a.mu.RUnlock()
		return ErrAccessorClosed
	}
	if !a.layout.IsUnique() {
		a.mu.RUnlock()
		return &UnsupportedOperationError{
			Op:     "VerifyDeferredConstraints",
			Reason: "non-unique index has no deferred constraints",
		}
	}
	snap, err := a.tree.Snapshot()
	a.mu.RUnlock()
	if err != nil {
		return translateError(err)
	}

	var (
		conflicts []EntryConflict
		group     []uint64
		value     layout.Number
		verr      error
	)
	check := func() {
		if len(group) < 2 {
			return
		}
		var c []EntryConflict
		c, verr = collidingEntities(pa, value, group)
		conflicts = append(conflicts, c...)
	}
	snap.Ascend(func(k layout.NumberKey, _ layout.NumberValue) bool {
		if len(group) > 0 && k.Value.Equal(value) {
			group = append(group, k.EntityID)
			return true
		}
		check()
		if verr != nil {
			return false
		}
		group = append(group[:0], k.EntityID)
		value = k.Value
		return true
	})
	if verr == nil {
		check()
	}
	if verr != nil {
		return verr
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}

// collidingEntities re-reads the entities of one index value and pairs the
// first still holding it with every other one that does.
func collidingEntities(pa PropertyAccessor, v layout.Number, ids []uint64) ([]EntryConflict, error) {
	holders := roaring64.New()
	for _, id := range ids {
		current, ok, err := pa.PropertyValue(id)
		if err != nil {
			return nil, fmt.Errorf("read property of entity %d: %w", id, err)
		}
		if ok && current.Equal(v) {
			holders.Add(id)
		}
	}
	if holders.GetCardinality() < 2 {
		return nil, nil
	}

	it := holders.Iterator()
	first := it.Next()
	var conflicts []EntryConflict
	for it.HasNext() {
		conflicts = append(conflicts, EntryConflict{Value: v, ExistingEntityID: first, AddedEntityID: it.Next()})
	}
	return conflicts, nil
}
