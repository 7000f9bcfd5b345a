package editctx

import (
	"errors"

	"go.uber.org/zap"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// Outcome is what an undo-context function returns to tell with_undo_context
// whether to commit and close the context, or leave it open for a later
// call under the same name (spec.md §4.C).
type Outcome int

const (
	Finish Outcome = iota
	AllowResume
)

// undoContext tracks one open, possibly-resumable transaction: the
// pre-image of every touched existing asset (first touch only) and the
// set of assets created within it.
type undoContext struct {
	name    string
	before  map[dataset.AID]*dataset.Asset
	created map[dataset.AID]bool
}

// EditContext wraps a Data Set with transactional mutation and an
// undo/redo stack fed by a single-producer-single-consumer channel, so a
// background context can commit without holding the caller's mutex
// (spec.md §4.C "Concurrency").
type EditContext struct {
	ds   *dataset.DataSet
	log  *zap.Logger
	open *undoContext

	committed chan *DataSetDiffSet
	stack     []*DataSetDiffSet
	idx       int
}

func New(ds *dataset.DataSet, log *zap.Logger) *EditContext {
	return &EditContext{ds: ds, log: log, committed: make(chan *DataSetDiffSet, 256)}
}

func (ec *EditContext) DataSet() *dataset.DataSet { return ec.ds }

// WithUndoContext opens (or continues, for the same name) an undo
// context, runs f, and commits or cancels based on f's outcome. An error
// from f cancels the context and is returned to the caller.
func (ec *EditContext) WithUndoContext(name string, f func(*EditContext) (Outcome, error)) error {
	if ec.open != nil && ec.open.name != name {
		if err := ec.commit(); err != nil {
			return err
		}
	}
	if ec.open == nil {
		ec.open = &undoContext{name: name, before: map[dataset.AID]*dataset.Asset{}, created: map[dataset.AID]bool{}}
	}

	outcome, err := f(ec)
	if err != nil {
		ec.cancel()
		return err
	}
	if outcome == AllowResume {
		return nil
	}
	return ec.commit()
}

// touch snapshots aid's pre-image the first time it is mutated within the
// currently open context. No-op outside a context or for an asset
// created inside this same context (its "before" is simply absence).
func (ec *EditContext) touch(aid dataset.AID) {
	if ec.open == nil {
		return
	}
	if ec.open.created[aid] {
		return
	}
	if _, ok := ec.open.before[aid]; ok {
		return
	}
	if snap, err := ec.ds.Snapshot(aid); err == nil {
		ec.open.before[aid] = snap
	}
}

func (ec *EditContext) trackCreated(aid dataset.AID) {
	if ec.open != nil {
		ec.open.created[aid] = true
	}
}

// --- Tracked mutation API: every Data Set write goes through here so
// before_state is captured and new assets are tracked for cancel/commit.

func (ec *EditContext) NewAsset(name *string, location dataset.AID, sf dataset.SF) (dataset.AID, error) {
	id, err := ec.ds.NewAsset(name, location, sf)
	if err != nil {
		return dataset.NilAID, err
	}
	ec.trackCreated(id)
	return id, nil
}

func (ec *EditContext) NewFromPrototype(name *string, location, prototype dataset.AID) (dataset.AID, error) {
	id, err := ec.ds.NewFromPrototype(name, location, prototype)
	if err != nil {
		return dataset.NilAID, err
	}
	ec.trackCreated(id)
	return id, nil
}

func (ec *EditContext) DeleteAsset(aid dataset.AID) error {
	ec.touch(aid)
	return ec.ds.DeleteAsset(aid)
}

func (ec *EditContext) SetProperty(aid dataset.AID, path dataset.Path, v dataset.Value) (dataset.Value, error) {
	ec.touch(aid)
	return ec.ds.SetProperty(aid, path, v)
}

func (ec *EditContext) ClearPropertyOverride(aid dataset.AID, path dataset.Path) error {
	ec.touch(aid)
	return ec.ds.ClearPropertyOverride(aid, path)
}

func (ec *EditContext) SetNullOverride(aid dataset.AID, path dataset.Path, st dataset.NullOverrideState) error {
	ec.touch(aid)
	return ec.ds.SetNullOverride(aid, path, st)
}

func (ec *EditContext) AddDynamicArrayEntry(aid dataset.AID, path dataset.Path) (dataset.AID, error) {
	ec.touch(aid)
	return ec.ds.AddDynamicArrayEntry(aid, path)
}

func (ec *EditContext) RemoveDynamicArrayEntry(aid dataset.AID, path dataset.Path, elem dataset.AID) error {
	ec.touch(aid)
	return ec.ds.RemoveDynamicArrayEntry(aid, path, elem)
}

func (ec *EditContext) SetReplaceMode(aid dataset.AID, path dataset.Path, on bool) error {
	ec.touch(aid)
	return ec.ds.SetReplaceMode(aid, path, on)
}

func (ec *EditContext) SetPrototype(aid dataset.AID, prototype *dataset.AID) error {
	ec.touch(aid)
	return ec.ds.SetPrototype(aid, prototype)
}

func (ec *EditContext) SetLocation(aid, newLocation dataset.AID) error {
	ec.touch(aid)
	return ec.ds.SetLocation(aid, newLocation)
}

func (ec *EditContext) SetName(aid dataset.AID, name *string) error {
	ec.touch(aid)
	return ec.ds.SetName(aid, name)
}

func (ec *EditContext) ApplyPropertyOverrideToPrototype(aid dataset.AID, path dataset.Path) error {
	ec.touch(aid)
	if a, err := ec.ds.Get(aid); err == nil && a.Prototype != nil {
		ec.touch(*a.Prototype)
	}
	return ec.ds.ApplyPropertyOverrideToPrototype(aid, path)
}

// commit diffs before_state against current state for every tracked
// asset, folds in creates/deletes, and if anything changed pushes the
// diff set onto the undo channel (spec.md §4.C).
func (ec *EditContext) commit() error {
	if ec.open == nil {
		return nil
	}
	ctx := ec.open
	ec.open = nil

	diffSet := newDiffSet()
	for aid, before := range ctx.before {
		after, err := ec.ds.Get(aid)
		if err != nil {
			diffSet.Deletes = append(diffSet.Deletes, before)
			continue
		}
		apply, revert, changed := computeAssetDiff(before, after)
		if changed {
			diffSet.Assets[aid] = assetDiffPair{Apply: apply, Revert: revert}
		}
	}
	for aid := range ctx.created {
		if snap, err := ec.ds.Snapshot(aid); err == nil {
			diffSet.Creates = append(diffSet.Creates, snap)
		}
	}

	if diffSet.isEmpty() {
		return nil
	}
	ec.drain()
	ec.committed <- diffSet
	return nil
}

// cancel restores before_state and deletes assets created inside the
// context, discarding every change made within it.
func (ec *EditContext) cancel() {
	if ec.open == nil {
		return
	}
	ctx := ec.open
	ec.open = nil

	for _, snap := range ctx.before {
		_ = ec.ds.RestoreSnapshot(snap)
	}
	for aid := range ctx.created {
		_ = ec.ds.DeleteAsset(aid)
	}
}

// drain folds every diff set waiting on the committed channel into the
// local stack, truncating any redo tail first (spec.md §4.C: "pop from
// receive queue first (drain), then apply/revert the diff at the current
// index").
func (ec *EditContext) drain() {
	for {
		select {
		case d := <-ec.committed:
			ec.stack = append(ec.stack[:ec.idx], d)
			ec.idx++
		default:
			return
		}
	}
}

// Undo reverts the most recently applied diff set, clamping at the
// bottom of the stack.
func (ec *EditContext) Undo() error {
	ec.drain()
	if ec.idx == 0 {
		return nil
	}
	ec.idx--
	return ec.applyDiffSet(ec.stack[ec.idx], true)
}

// Redo re-applies the next diff set, clamping at the top of the stack.
func (ec *EditContext) Redo() error {
	ec.drain()
	if ec.idx >= len(ec.stack) {
		return nil
	}
	d := ec.stack[ec.idx]
	ec.idx++
	return ec.applyDiffSet(d, false)
}

func (ec *EditContext) applyDiffSet(d *DataSetDiffSet, revert bool) error {
	if revert {
		for _, snap := range d.Creates {
			if err := ec.ds.DeleteAsset(snap.ID); err != nil && !isNotFound(err) {
				return err
			}
		}
		for _, snap := range d.Deletes {
			if err := ec.ds.RestoreSnapshot(snap); err != nil {
				return err
			}
		}
		for aid, pair := range d.Assets {
			if err := applyAssetDiff(ec.ds, aid, pair.Revert); err != nil {
				return err
			}
		}
		return nil
	}

	for _, snap := range d.Deletes {
		if err := ec.ds.DeleteAsset(snap.ID); err != nil && !isNotFound(err) {
			return err
		}
	}
	for _, snap := range d.Creates {
		if err := ec.ds.RestoreSnapshot(snap); err != nil {
			return err
		}
	}
	for aid, pair := range d.Assets {
		if err := applyAssetDiff(ec.ds, aid, pair.Apply); err != nil {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ferrors.ErrAssetNotFound)
}
