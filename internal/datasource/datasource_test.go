package datasource

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/schema"
)

// testSchema links a PathNodeRoot marker record (empty fields, a
// distinguished schema used purely to flag path-node assets) plus a small
// Widget record, mirroring how path nodes are ordinary assets of a
// reserved schema rather than a separate record type.
func testSchema(t *testing.T) (*dataset.DataSet, schema.SF, schema.SF) {
	t.Helper()
	defs := []*schema.NamedTypeDef{
		{Kind: schema.RecordKind, Name: "PathNodeRoot", Fields: nil},
		{Kind: schema.RecordKind, Name: "Widget", Fields: []schema.FieldDef{
			{Name: "flag", Type: schema.FieldTypeDef{Kind: schema.DefPrimitive, Primitive: schema.Bool}},
		}},
	}
	reg := schema.NewRegistry()
	require.NoError(t, reg.Link(defs))
	pathNodeSF, ok := reg.Find("PathNodeRoot")
	require.True(t, ok)
	widget, ok := reg.Find("Widget")
	require.True(t, ok)
	return dataset.New(reg), pathNodeSF, widget
}

func TestIDBasedSource_PersistAndReload(t *testing.T) {
	ds, pathNodeSF, widget := testSchema(t)
	fs := afero.NewMemMapFs()
	sourceID := dataset.NewAID()
	src := NewIDBased(fs, "/project/assets", sourceID, pathNodeSF)

	id, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)
	_, err = ds.SetProperty(id, "flag", dataset.BoolValue(true))
	require.NoError(t, err)

	require.NoError(t, src.Persist(ds))

	exists, err := afero.Exists(fs, src.assetPath(id))
	require.NoError(t, err)
	require.True(t, exists, "Persist writes one .af file per owned asset")

	ds2, _, _ := testSchema(t)
	src2 := NewIDBased(fs, "/project/assets", sourceID, pathNodeSF)
	require.NoError(t, src2.LoadFromStorage(ds2))

	require.True(t, ds2.Exists(id))
	v, err := ds2.ResolveProperty(id, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(true), v)
}

func TestIDBasedSource_OwnershipByLocationChain(t *testing.T) {
	ds, pathNodeSF, widget := testSchema(t)
	fs := afero.NewMemMapFs()
	sourceA := dataset.NewAID()
	sourceB := dataset.NewAID()
	srcA := NewIDBased(fs, "/a", sourceA, pathNodeSF)

	// A path node whose own location is sourceB's id marks everything
	// beneath it as owned by B, not A, even though both sources share one
	// loaded data set.
	foreignRoot, err := ds.NewAsset(nil, sourceB, pathNodeSF)
	require.NoError(t, err)
	owned, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)
	foreign, err := ds.NewAsset(nil, foreignRoot, widget)
	require.NoError(t, err)

	require.True(t, srcA.owns(ds, owned), "a null-located asset defaults to the only source present")
	require.False(t, srcA.owns(ds, foreign), "an asset under a path node rooted at another source's id is not owned")
	require.False(t, srcA.owns(ds, foreignRoot), "a path-node-root asset is never itself owned content")
}

func TestIDBasedSource_GeneratedAssetSkippedUntilPersisted(t *testing.T) {
	ds, pathNodeSF, widget := testSchema(t)
	fs := afero.NewMemMapFs()
	sourceID := dataset.NewAID()
	src := NewIDBased(fs, "/project/assets", sourceID, pathNodeSF)

	id, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)
	a, err := ds.Get(id)
	require.NoError(t, err)
	a.Generated = true

	require.NoError(t, src.Persist(ds))
	exists, err := afero.Exists(fs, src.assetPath(id))
	require.NoError(t, err)
	require.False(t, exists, "a generated asset is not written by a plain Persist")

	require.NoError(t, src.PersistGenerated(ds, id))
	exists, err = afero.Exists(fs, src.assetPath(id))
	require.NoError(t, err)
	require.True(t, exists)
	require.False(t, a.Generated, "PersistGenerated clears the flag once written")
}

func TestIDBasedSource_PersistRemovesDeletedAssetFiles(t *testing.T) {
	ds, pathNodeSF, widget := testSchema(t)
	fs := afero.NewMemMapFs()
	sourceID := dataset.NewAID()
	src := NewIDBased(fs, "/project/assets", sourceID, pathNodeSF)

	id, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)
	require.NoError(t, src.Persist(ds))

	require.NoError(t, ds.DeleteAsset(id))
	require.NoError(t, src.Persist(ds))

	exists, err := afero.Exists(fs, src.assetPath(id))
	require.NoError(t, err)
	require.False(t, exists, "a second Persist after deletion removes the stale file")
}

func TestTreeBasedSource_PersistGroupsSiblingsIntoOneFile(t *testing.T) {
	ds, pathNodeSF, widget := testSchema(t)
	fs := afero.NewMemMapFs()
	sourceID := dataset.NewAID()
	src := NewTreeBased(fs, "/project/tree", sourceID, pathNodeSF)

	a1, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)
	a2, err := ds.NewAsset(nil, dataset.NilAID, widget)
	require.NoError(t, err)
	_, err = ds.SetProperty(a1, "flag", dataset.BoolValue(true))
	require.NoError(t, err)

	require.NoError(t, src.Persist(ds))

	data, err := afero.ReadFile(fs, "/project/tree/_assets.json")
	require.NoError(t, err)
	require.Contains(t, string(data), a1.String())
	require.Contains(t, string(data), a2.String())

	ds2, _, _ := testSchema(t)
	src2 := NewTreeBased(fs, "/project/tree", sourceID, pathNodeSF)
	require.NoError(t, src2.LoadFromStorage(ds2))
	require.True(t, ds2.Exists(a1))
	require.True(t, ds2.Exists(a2))
	v, err := ds2.ResolveProperty(a1, "flag")
	require.NoError(t, err)
	require.Equal(t, dataset.BoolValue(true), v)
}

func TestTreeBasedSource_NestedPathNodeBecomesSubdirectory(t *testing.T) {
	ds, pathNodeSF, widget := testSchema(t)
	fs := afero.NewMemMapFs()
	sourceID := dataset.NewAID()
	src := NewTreeBased(fs, "/project/tree", sourceID, pathNodeSF)

	folderName := "characters"
	folder, err := ds.NewAsset(&folderName, sourceID, pathNodeSF)
	require.NoError(t, err)
	id, err := ds.NewAsset(nil, folder, widget)
	require.NoError(t, err)

	require.NoError(t, src.Persist(ds))

	exists, err := afero.Exists(fs, "/project/tree/characters/_assets.json")
	require.NoError(t, err)
	require.True(t, exists, "a named path node maps to a same-named subdirectory")

	data, err := afero.ReadFile(fs, "/project/tree/characters/_assets.json")
	require.NoError(t, err)
	require.Contains(t, string(data), id.String())
}
