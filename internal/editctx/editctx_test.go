package editctx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/obslog"
	"github.com/foundryforge/foundry/internal/schema"
)

func flagSchema(t *testing.T) (*dataset.DataSet, schema.SF) {
	t.Helper()
	defs := []*schema.NamedTypeDef{
		{Kind: schema.RecordKind, Name: "Widget", Fields: []schema.FieldDef{
			{Name: "flag", Type: schema.FieldTypeDef{Kind: schema.DefPrimitive, Primitive: schema.Bool}},
		}},
	}
	reg := schema.NewRegistry()
	require.NoError(t, reg.Link(defs))
	sf, ok := reg.Find("Widget")
	require.True(t, ok)
	return dataset.New(reg), sf
}

func TestEditContext_CommitAndUndoRedo(t *testing.T) {
	ds, widget := flagSchema(t)
	ec := New(ds, obslog.Discard())

	var id dataset.AID
	err := ec.WithUndoContext("edit1", func(ec *EditContext) (Outcome, error) {
		var err error
		id, err = ec.NewAsset(nil, dataset.NilAID, widget)
		if err != nil {
			return Finish, err
		}
		_, err = ec.SetProperty(id, "flag", dataset.BoolValue(true))
		return Finish, err
	})
	require.NoError(t, err)

	v, err := ds.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(true), v)

	require.NoError(t, ec.Undo())
	require.False(t, ds.Exists(id), "undoing a context that created the asset removes it")

	require.NoError(t, ec.Redo())
	require.True(t, ds.Exists(id))
	v, err = ds.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(true), v)
}

func TestEditContext_UndoRestoresPriorValue(t *testing.T) {
	ds, widget := flagSchema(t)
	ec := New(ds, obslog.Discard())

	id, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)

	err = ec.WithUndoContext("edit1", func(ec *EditContext) (Outcome, error) {
		_, err := ec.SetProperty(id, "flag", dataset.BoolValue(true))
		return Finish, err
	})
	require.NoError(t, err)

	err = ec.WithUndoContext("edit2", func(ec *EditContext) (Outcome, error) {
		_, err := ec.SetProperty(id, "flag", dataset.BoolValue(false))
		return Finish, err
	})
	require.NoError(t, err)

	v, err := ds.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(false), v)

	require.NoError(t, ec.Undo())
	v, err = ds.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(true), v, "undo restores the value from before the second edit")

	require.NoError(t, ec.Undo())
	v, err = ds.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(false), v, "undo again restores the value from before the first edit")

	require.NoError(t, ec.Undo(), "undo past the bottom of the stack is a clamped no-op")
}

func TestEditContext_CancelOnError(t *testing.T) {
	ds, widget := flagSchema(t)
	ec := New(ds, obslog.Discard())

	id, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = ec.WithUndoContext("edit1", func(ec *EditContext) (Outcome, error) {
		_, serr := ec.SetProperty(id, "flag", dataset.BoolValue(true))
		require.NoError(t, serr)
		return Finish, boom
	})
	require.ErrorIs(t, err, boom)

	v, rerr := ds.ResolveProperty(id, "flag")
	require.NoError(t, rerr)
	require.Equal(t, dataset.BoolValue(false), v, "an error from f cancels the context and restores before_state")
}

func TestEditContext_AllowResumeKeepsContextOpen(t *testing.T) {
	ds, widget := flagSchema(t)
	ec := New(ds, obslog.Discard())

	id, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)

	err = ec.WithUndoContext("drag", func(ec *EditContext) (Outcome, error) {
		_, err := ec.SetProperty(id, "flag", dataset.BoolValue(true))
		return AllowResume, err
	})
	require.NoError(t, err)
	require.NotNil(t, ec.open, "AllowResume leaves the context open")

	err = ec.WithUndoContext("drag", func(ec *EditContext) (Outcome, error) {
		_, err := ec.SetProperty(id, "flag", dataset.BoolValue(false))
		return Finish, err
	})
	require.NoError(t, err)

	// The whole resumed context collapses into one undo step: before_state
	// was captured on first touch, so undo restores the pre-drag value.
	require.NoError(t, ec.Undo())
	v, err := ds.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(false), v, "flag had no override before the drag began")
}
