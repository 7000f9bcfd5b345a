package datasource

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/schema"
)

// IDBasedSource is the Id-based Data Source layout (spec.md §4.D): one file
// per asset, named by the asset's uuid under the hashed path scheme of
// spec.md §6. Path nodes are ordinary assets of a distinguished schema
// (pathNodeRootSF); ownership of any other asset is decided by walking its
// location chain up through those path-node assets until a null location
// (owned by default) or a location equal to this source's id (owned) is
// reached.
type IDBasedSource struct {
	fs             afero.Fs
	root           string
	sourceID       dataset.AID
	pathNodeRootSF schema.SF

	// onDisk is every asset id this source wrote (or loaded) last time,
	// so Persist can detect and remove files for assets deleted from the
	// data set since.
	onDisk map[dataset.AID]bool
}

func NewIDBased(fs afero.Fs, root string, sourceID dataset.AID, pathNodeRootSF schema.SF) *IDBasedSource {
	return &IDBasedSource{fs: fs, root: root, sourceID: sourceID, pathNodeRootSF: pathNodeRootSF, onDisk: map[dataset.AID]bool{}}
}

func (s *IDBasedSource) ID() dataset.AID { return s.sourceID }

// owns mirrors is_asset_owned_by_this_data_source: a path-node-root asset
// is never itself "owned" content, and any other asset is owned if walking
// its location chain reaches this source's id, or reaches the null
// location (the single-source fallback), before leaving the known tree.
func (s *IDBasedSource) owns(ds *dataset.DataSet, aid dataset.AID) bool {
	a, err := ds.Get(aid)
	if err != nil {
		return false
	}
	if a.Schema == s.pathNodeRootSF {
		return false
	}
	loc := a.Location
	seen := map[dataset.AID]bool{}
	for {
		if loc == dataset.NilAID {
			return true
		}
		if loc == s.sourceID {
			return true
		}
		if seen[loc] {
			return false
		}
		seen[loc] = true
		node, err := ds.Get(loc)
		if err != nil {
			return false
		}
		loc = node.Location
	}
}

func (s *IDBasedSource) assetPath(aid dataset.AID) string {
	return filepath.Join(s.root, hexUUIDPath(aid, ".af"))
}

// LoadFromStorage discards every asset this source currently owns in ds and
// reloads the whole set from the ".af" files under root (spec.md §4.D).
func (s *IDBasedSource) LoadFromStorage(ds *dataset.DataSet) error {
	for _, aid := range ds.AllAssetIDs() {
		if s.owns(ds, aid) {
			_ = ds.DeleteAsset(aid)
		}
	}
	s.onDisk = map[dataset.AID]bool{}

	exists, err := afero.DirExists(s.fs, s.root)
	if err != nil {
		return ferrors.WrapIO(s.root, err)
	}
	if !exists {
		return nil
	}

	return afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return ferrors.WrapIO(path, err)
		}
		if info.IsDir() || !strings.HasSuffix(path, ".af") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return ferrors.WrapIO(path, err)
		}
		aid, err := uuidFromHexPath(rel, ".af")
		if err != nil {
			return err
		}
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return ferrors.WrapIO(path, err)
		}
		a, err := assetFromJSON(aid, data)
		if err != nil {
			return err
		}
		if err := ds.RestoreSnapshot(a); err != nil {
			return err
		}
		s.onDisk[aid] = true
		return nil
	})
}

// Persist writes every asset ds currently loads that this source owns and
// is not still "generated", and removes files for owned ids that
// disappeared from ds since the last Persist/LoadFromStorage.
func (s *IDBasedSource) Persist(ds *dataset.DataSet) error {
	owned := map[dataset.AID]bool{}
	for _, aid := range ds.AllAssetIDs() {
		a, err := ds.Get(aid)
		if err != nil {
			continue
		}
		if a.Generated {
			continue
		}
		if !s.owns(ds, aid) {
			continue
		}
		owned[aid] = true
		if err := s.writeAsset(a); err != nil {
			return err
		}
	}
	for aid := range s.onDisk {
		if owned[aid] {
			continue
		}
		p := s.assetPath(aid)
		if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			return ferrors.WrapIO(p, err)
		}
	}
	s.onDisk = owned
	return nil
}

// PersistGenerated writes a single importer-produced asset to storage and
// clears its generated flag, the one path by which a generated asset
// becomes a real, persisted file (spec.md §4.D).
func (s *IDBasedSource) PersistGenerated(ds *dataset.DataSet, aid dataset.AID) error {
	a, err := ds.Get(aid)
	if err != nil {
		return err
	}
	if err := s.writeAsset(a); err != nil {
		return err
	}
	if err := ds.ClearGenerated(aid); err != nil {
		return err
	}
	s.onDisk[aid] = true
	return nil
}

func (s *IDBasedSource) writeAsset(a *dataset.Asset) error {
	data, err := assetToJSON(a)
	if err != nil {
		return err
	}
	p := s.assetPath(a.ID)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return ferrors.WrapIO(p, err)
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return ferrors.WrapIO(p, err)
	}
	return nil
}
