package datasource

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/schema"
)

const treeFileName = "_assets.json"

// treeFileJSON is one directory's worth of co-located assets: every asset
// whose location resolves (directly) to the path node this directory
// represents, per spec.md §4.D "multiple assets may share a file".
type treeFileJSON struct {
	Assets []treeAssetEntryJSON `json:"assets"`
}

type treeAssetEntryJSON struct {
	ID string `json:"id"`
	assetFileJSON
}

// TreeBasedSource is the Tree-based Data Source layout (spec.md §4.D): the
// directory structure itself encodes the path-node hierarchy (a path node's
// directory name is its asset Name), and every directory's direct-child
// assets are aggregated into one treeFileName file rather than one file
// per asset.
type TreeBasedSource struct {
	fs             afero.Fs
	root           string
	sourceID       dataset.AID
	pathNodeRootSF schema.SF

	onDisk map[dataset.AID]bool
}

func NewTreeBased(fs afero.Fs, root string, sourceID dataset.AID, pathNodeRootSF schema.SF) *TreeBasedSource {
	return &TreeBasedSource{fs: fs, root: root, sourceID: sourceID, pathNodeRootSF: pathNodeRootSF, onDisk: map[dataset.AID]bool{}}
}

func (s *TreeBasedSource) ID() dataset.AID { return s.sourceID }

func (s *TreeBasedSource) owns(ds *dataset.DataSet, aid dataset.AID) bool {
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

// dirFor computes the directory a path node maps to by collecting path-node
// Names from node up to (not including) the source root, reversing them
// into root-to-leaf order. The walk stops early at a node that cannot be
// fetched or that repeats (a cycle); the names collected up to that point
// are joined onto root.
func (s *TreeBasedSource) dirFor(ds *dataset.DataSet, pathNode dataset.AID) string {
	var names []string
	cur := pathNode
	seen := map[dataset.AID]bool{}
	for cur != dataset.NilAID && cur != s.sourceID {
		if seen[cur] {
			break
		}
		seen[cur] = true
		node, err := ds.Get(cur)
		if err != nil {
			break
		}
		name := cur.String()
		if node.Name != nil {
			name = *node.Name
		}
		names = append(names, name)
		cur = node.Location
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return filepath.Join(append([]string{s.root}, names...)...)
}

func (s *TreeBasedSource) LoadFromStorage(ds *dataset.DataSet) error {
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
		if info.IsDir() || info.Name() != treeFileName {
			return nil
		}
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			return ferrors.WrapIO(path, err)
		}
		var tf treeFileJSON
		if err := json.Unmarshal(data, &tf); err != nil {
			return ferrors.WrapIO(path, err)
		}
		for _, entry := range tf.Assets {
			id, err := uuid.Parse(entry.ID)
			if err != nil {
				return ferrors.WrapIO(path, err)
			}
			a, err := assetFromFileJSON(id, entry.assetFileJSON)
			if err != nil {
				return err
			}
			if err := ds.RestoreSnapshot(a); err != nil {
				return err
			}
			s.onDisk[id] = true
		}
		return nil
	})
}

func (s *TreeBasedSource) Persist(ds *dataset.DataSet) error {
	byDir := map[string][]treeAssetEntryJSON{}
	owned := map[dataset.AID]bool{}
	for _, aid := range ds.AllAssetIDs() {
		a, err := ds.Get(aid)
		if err != nil {
			continue
		}
		if a.Generated || !s.owns(ds, aid) {
			continue
		}
		owned[aid] = true
		dir := s.dirFor(ds, a.Location)
		byDir[dir] = append(byDir[dir], treeAssetEntryJSON{ID: aid.String(), assetFileJSON: buildAssetFileJSON(a)})
	}

	for dir, entries := range byDir {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return ferrors.WrapIO(dir, err)
		}
		data, err := json.Marshal(treeFileJSON{Assets: entries})
		if err != nil {
			return err
		}
		p := filepath.Join(dir, treeFileName)
		if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
			return ferrors.WrapIO(p, err)
		}
	}

	// Stale directories (every owned asset removed from them) are left in
	// place, but their tree file is removed so the per-directory file
	// content reflects current ownership.
	walkErr := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || info.Name() != treeFileName {
			return nil
		}
		if _, ok := byDir[filepath.Dir(path)]; ok {
			return nil
		}
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return ferrors.WrapIO(path, err)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	s.onDisk = owned
	return nil
}
