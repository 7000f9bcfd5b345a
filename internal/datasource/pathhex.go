package datasource

import (
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// HexUUIDPath splits an asset or artifact id's 32-hex-character form into
// the three path segments named in spec.md §6:
// "<id[0]>/<id[1..3]>/<id[3..32]>". Exported since internal/project needs
// the identical scheme for import-data and artifact file paths (spec.md
// §6) and an id's 16 bytes mean the same thing regardless of whether the
// caller's static type is dataset.AID or fhash.Digest128.
func HexUUIDPath(id [16]byte, ext string) string {
	h := hex.EncodeToString(id[:])
	return filepath.Join(h[0:1], h[1:3], h[3:]+ext)
}

func hexUUIDPath(id dataset.AID, ext string) string { return HexUUIDPath(id, ext) }

// uuidFromHexPath reverses hexUUIDPath, reconstructing the id from a
// relative file path discovered by a storage walk.
func uuidFromHexPath(rel, ext string) (dataset.AID, error) {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), ext)
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return dataset.NilAID, ferrors.WrapIO(rel, errors.New("malformed asset file path"))
	}
	full := parts[0] + parts[1] + parts[2]
	b, err := hex.DecodeString(full)
	if err != nil || len(b) != 16 {
		return dataset.NilAID, ferrors.WrapIO(rel, errors.New("malformed asset file path"))
	}
	var id dataset.AID
	copy(id[:], b)
	return id, nil
}
