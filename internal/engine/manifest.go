package engine

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/fhash"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/jobs"
)

// ManifestRecord is one line of a manifest file (spec.md §4.H): the asset
// it came from, the artifact id, and a hash of that artifact's bytes.
type ManifestRecord struct {
	AssetId      dataset.AID
	ArtifactId   jobs.ArtifactId
	ArtifactHash fhash.Digest128
}

// CombinedBuildHash folds every record's (asset_id, artifact_hash) pair,
// sorted by asset id so the result doesn't depend on build order, into the
// single hash spec.md §4.G names the manifest file after.
func CombinedBuildHash(records []ManifestRecord) fhash.Digest128 {
	sorted := make([]ManifestRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AssetId.String() < sorted[j].AssetId.String()
	})
	parts := make([][]byte, 0, len(sorted)*2)
	for _, r := range sorted {
		aid := r.AssetId
		hash := r.ArtifactHash
		parts = append(parts, aid[:], hash[:])
	}
	return fhash.Sum128(parts...)
}

// WriteManifest renders records as the text format spec.md §4.H specifies
// (one `asset_id_hex,artifact_id_hex,artifact_hash_hex` line per record)
// under <root>/manifests/<combined_build_hash>.manifest.
func WriteManifest(fs afero.Fs, root string, records []ManifestRecord) (string, fhash.Digest128, error) {
	combined := CombinedBuildHash(records)
	dir := filepath.Join(root, "manifests")
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", combined, ferrors.WrapIO(dir, err)
	}
	path := filepath.Join(dir, combined.String()+".manifest")

	f, err := fs.Create(path)
	if err != nil {
		return "", combined, ferrors.WrapIO(path, err)
	}
	defer f.Close()

	sorted := make([]ManifestRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].AssetId.String() < sorted[j].AssetId.String()
	})
	for _, r := range sorted {
		line := fmt.Sprintf("%s,%s,%s\n", r.AssetId.String(), r.ArtifactId.String(), r.ArtifactHash.String())
		if _, err := f.WriteString(line); err != nil {
			return "", combined, ferrors.WrapIO(path, err)
		}
	}
	return path, combined, nil
}
