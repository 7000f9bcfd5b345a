package schema

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"
	"go.uber.org/zap"
)

// cacheFile is the on-disk shape of the whole schema cache: a format
// version plus every historic schema entry. NamedType itself is encoded
// directly; it never contains back-references (types
// reference each other by fingerprint, not struct pointer), so CBOR's
// lack of cycle support is a non-issue here.
type cacheFile struct {
	Version int          `codec:"version"`
	Types   []*NamedType `codec:"types"`
}

const cacheFormatVersion = 1

var cborHandle = &codec.CborHandle{}

// LoadCache reads every schema ever persisted at path. A missing file is
// not an error (first run); a corrupt file is non-fatal per spec.md §4.A
// ("CorruptCache: non-fatal: ignore unknown entries, warn"). The file is
// decoded as one unit: if decoding fails, a warning is logged and the
// whole cache is ignored (an empty map is returned). Decoded entries that
// are nil or carry a zero fingerprint are skipped with a warning.
func LoadCache(path string, log *zap.Logger) (map[SF]*NamedType, error) {
	out := make(map[SF]*NamedType)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "schema: read cache %s", path)
	}

	var cf cacheFile
	dec := codec.NewDecoderBytes(data, cborHandle)
	if err := dec.Decode(&cf); err != nil {
		log.Warn("schema cache corrupt, ignoring", zap.String("path", path), zap.Error(err))
		return out, nil
	}

	for _, nt := range cf.Types {
		if nt == nil || nt.Fingerprint.IsZero() {
			log.Warn("schema cache entry corrupt, skipping", zap.String("path", path))
			continue
		}
		out[nt.Fingerprint] = nt
	}
	return out, nil
}

// SaveCache persists every schema the registry has ever seen. The write is
// atomic (temp file + rename) and serialized against other writers in this
// process tree with a flock, matching the teacher's convention for any
// file more than one goroutine/process might touch concurrently.
func SaveCache(path string, historic map[SF]*NamedType) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "schema: mkdir %s", dir)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "schema: lock %s", path)
	}
	defer lock.Unlock()

	cf := cacheFile{Version: cacheFormatVersion, Types: make([]*NamedType, 0, len(historic))}
	for _, nt := range historic {
		cf.Types = append(cf.Types, nt)
	}

	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cborHandle)
	if err := enc.Encode(cf); err != nil {
		return errors.Wrap(err, "schema: encode cache")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return errors.Wrapf(err, "schema: write temp cache %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "schema: rename cache %s -> %s", tmp, path)
	}
	return nil
}
