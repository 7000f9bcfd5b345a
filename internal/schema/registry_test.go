package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_FindCurrentOnly(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Link([]*NamedTypeDef{simpleRecord("Texture", []Primitive{Bool}, []string{"Tex"})}))

	sf, ok := r.Find("Tex")
	require.True(t, ok)
	nt, ok := r.Get(sf)
	require.True(t, ok)
	require.Equal(t, "Texture", nt.Name)
}

func TestRegistry_CacheRoundTripSurvivesSchemaEvolution(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "schema_cache.bin")
	log := zap.NewNop()

	// Session 1: schema has field {x: i32}.
	r1 := NewRegistry()
	require.NoError(t, r1.Link([]*NamedTypeDef{simpleRecord("Widget", []Primitive{I32}, nil)}))
	oldFP, _ := r1.Find("Widget")
	require.NoError(t, r1.SaveCacheFile(cachePath))

	// Session 2: schema evolves to {x: i32, y: i32}; old fingerprint must
	// still resolve via the cache even though it is no longer "current".
	r2 := NewRegistry()
	require.NoError(t, r2.LoadCacheFile(cachePath, log))
	require.NoError(t, r2.Link([]*NamedTypeDef{simpleRecord("Widget", []Primitive{I32, I32}, nil)}))

	newFP, ok := r2.Find("Widget")
	require.True(t, ok)
	require.NotEqual(t, oldFP, newFP, "evolving the schema must change its fingerprint")

	_, ok = r2.Get(oldFP)
	require.True(t, ok, "the pre-evolution fingerprint must still resolve from the historic cache")
}

func TestRegistry_CorruptCacheIsNonFatal(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "schema_cache.bin")
	require.NoError(t, os.WriteFile(cachePath, []byte("not a valid cbor cache file"), 0o644))

	r := NewRegistry()
	require.NoError(t, r.LoadCacheFile(cachePath, zap.NewNop()))
	require.NoError(t, r.Link([]*NamedTypeDef{simpleRecord("Widget", []Primitive{I32}, nil)}))
	_, ok := r.Find("Widget")
	require.True(t, ok)
}
