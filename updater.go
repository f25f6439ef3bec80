package numindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/numindex/layout"
)

// UpdateMode selects how an updater session treats updates that do not
// match the stored entries.
type UpdateMode uint8

const (
	// UpdateOnline applies live changes. Removing or changing a missing
	// entry fails with ErrEntryNotFound.
	UpdateOnline UpdateMode = iota
	// UpdateOnlineIdempotent applies live changes that may already be
	// applied. Missing removals are ignored.
	UpdateOnlineIdempotent
	// UpdateRecovery replays changes after a crash. Missing removals are
	// ignored.
	UpdateRecovery
)

func (m UpdateMode) String() string {
	switch m {
	case UpdateOnline:
		return "online"
	case UpdateOnlineIdempotent:
		return "online_idempotent"
	case UpdateRecovery:
		return "recovery"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m UpdateMode) strict() bool { return m == UpdateOnline }

// UpdateKind is the kind of an IndexEntryUpdate.
type UpdateKind uint8

const (
	Added UpdateKind = iota + 1
	Changed
	Removed
)

func (k UpdateKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IndexEntryUpdate describes one change of an entity's indexed value.
// Before is used by Changed and Removed, After by Added and Changed.
type IndexEntryUpdate struct {
	Kind     UpdateKind
	EntityID uint64
	Before   layout.Number
	After    layout.Number
}

// Add returns the update adding value v for entity id.
func Add(id uint64, v layout.Number) IndexEntryUpdate {
	return IndexEntryUpdate{Kind: Added, EntityID: id, After: v}
}

// Change returns the update moving entity id from before to after.
func Change(id uint64, before, after layout.Number) IndexEntryUpdate {
	return IndexEntryUpdate{Kind: Changed, EntityID: id, Before: before, After: after}
}

// Remove returns the update removing value v of entity id.
func Remove(id uint64, v layout.Number) IndexEntryUpdate {
	return IndexEntryUpdate{Kind: Removed, EntityID: id, Before: v}
}

func (u IndexEntryUpdate) validate() error {
	switch u.Kind {
	case Added:
		if u.After.IsZero() {
			return fmt.Errorf("%w: added entry of entity %d has no value", ErrInvalidUpdate, u.EntityID)
		}
	case Changed:
		if u.Before.IsZero() || u.After.IsZero() {
			return fmt.Errorf("%w: changed entry of entity %d needs both values", ErrInvalidUpdate, u.EntityID)
		}
	case Removed:
		if u.Before.IsZero() {
			return fmt.Errorf("%w: removed entry of entity %d has no value", ErrInvalidUpdate, u.EntityID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidUpdate, u.Kind)
	}
	return nil
}

// Updater is the single write session of an accessor. It is obtained from
// Accessor.NewUpdater and reused across sessions. An Updater is not safe for
// concurrent use.
type Updater struct {
	acc *Accessor

	mu        sync.Mutex
	active    bool
	mode      UpdateMode
	writer    treeWriter
	started   time.Time
	processed int
	failed    int
}

func (u *Updater) begin(mode UpdateMode) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.active {
		return ErrUpdaterActive
	}
	w, err := u.acc.tree.Writer()
	if err != nil {
		return translateError(err)
	}
	u.active = true
	u.mode = mode
	u.writer = w
	u.started = time.Now()
	u.processed, u.failed = 0, 0
	return nil
}

// Mode returns the mode of the current session.
func (u *Updater) Mode() UpdateMode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

// Process applies one update. A failed update leaves the session usable.
func (u *Updater) Process(update IndexEntryUpdate) error {
	u.acc.mu.RLock()
	defer u.acc.mu.RUnlock()
	if u.acc.state != stateOpen {
		return ErrAccessorClosed
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.active {
		return ErrUpdaterClosed
	}

	if err := u.apply(update); err != nil {
		u.failed++
		return err
	}
	u.processed++
	return nil
}

func (u *Updater) apply(update IndexEntryUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}

	switch update.Kind {
	case Added:
		return u.put(update.EntityID, update.After)
	case Changed:
		if err := u.remove(update.EntityID, update.Before); err != nil {
			return err
		}
		return u.put(update.EntityID, update.After)
	default:
		return u.remove(update.EntityID, update.Before)
	}
}

func (u *Updater) put(id uint64, v layout.Number) error {
	_, err := u.writer.Put(layout.NumberKey{Value: v, EntityID: id}, layout.NumberValue{})
	return translateError(err)
}

func (u *Updater) remove(id uint64, v layout.Number) error {
	removed, err := u.writer.Remove(layout.NumberKey{Value: v, EntityID: id})
	if err != nil {
		return translateError(err)
	}
	if !removed && u.mode.strict() {
		return fmt.Errorf("%w: entity %d with value %s", ErrEntryNotFound, id, v)
	}
	return nil
}

// Close ends the session and publishes its changes to readers created
// afterwards. Closing an idle updater fails with ErrUpdaterClosed.
func (u *Updater) Close() error {
	u.acc.mu.RLock()
	defer u.acc.mu.RUnlock()
	if u.acc.state != stateOpen {
		return ErrAccessorClosed
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.active {
		return ErrUpdaterClosed
	}
	u.active = false
	w := u.writer
	u.writer = nil

	err := translateError(w.Close())
	u.acc.logger.LogUpdaterSession(context.Background(), u.mode, u.processed, u.failed)
	u.acc.metrics.RecordUpdaterSession(u.mode, u.processed, u.failed, time.Since(u.started))
	return err
}

// abandon ends an open session without publishing it. Callers hold the
// accessor lock exclusively.
func (u *Updater) abandon() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.active {
		return
	}
	u.active = false
	// Closing the writer releases the tree's writer lock; the tree itself is
	// closed right after, so the published root is never persisted.
	_ = u.writer.Close()
	u.writer = nil
}
