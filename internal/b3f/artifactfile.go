package b3f

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/ugorji/go/codec"

	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/jobs"
)

// ArtifactFileTag is the container tag for a .bf file: block 0 a CBOR
// metadata header, block 1 the raw artifact payload the processor
// produced.
var ArtifactFileTag = [4]byte{'H', 'Y', 'A', 'F'}

const artifactFileVersion uint16 = 1

// ArtifactFileHeader carries the bookkeeping a Data Source needs to find
// and validate an artifact without decoding its payload.
type ArtifactFileHeader struct {
	AssetId      string   `codec:"asset_id"`
	ArtifactId   string   `codec:"artifact_id"`
	ArtifactType string   `codec:"artifact_type"`
	Dependencies []string `codec:"dependencies"`
	// PayloadCompressed reports whether block 1 is Snappy-compressed.
	PayloadCompressed bool `codec:"payload_compressed"`
}

func encodeArtifactHeader(h ArtifactFileHeader) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, b3fCBOR)
	if err := enc.Encode(h); err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: encode artifact file header")
	}
	return buf, nil
}

func decodeArtifactHeader(data []byte) (ArtifactFileHeader, error) {
	var h ArtifactFileHeader
	dec := codec.NewDecoderBytes(data, b3fCBOR)
	if err := dec.Decode(&h); err != nil {
		return ArtifactFileHeader{}, ferrors.Wrap(ferrors.IO, err, "", "b3f: decode artifact file header")
	}
	return h, nil
}

// WriteArtifactFile serializes a built artifact to path.
func WriteArtifactFile(fs afero.Fs, path string, a jobs.BuiltArtifact) error {
	deps := make([]string, len(a.Dependencies))
	for i, d := range a.Dependencies {
		deps[i] = d.String()
	}
	payload, compressed := maybeCompress(a.Payload)
	header := ArtifactFileHeader{
		AssetId:           a.AssetId.String(),
		ArtifactId:        a.ArtifactId.String(),
		ArtifactType:      a.ArtifactType.String(),
		Dependencies:      deps,
		PayloadCompressed: compressed,
	}
	headerBytes, err := encodeArtifactHeader(header)
	if err != nil {
		return err
	}

	w := NewWriter(ArtifactFileTag, artifactFileVersion)
	w.AddBlock(headerBytes)
	w.AddBlock(payload)
	return writeContainerAtomically(fs, path, w)
}

// ReadArtifactFile opens and decodes the .bf file at path, returning its
// header and raw payload (the payload's interpretation is up to the
// asset type's consumer — b3f doesn't know artifact schemas).
func ReadArtifactFile(fs afero.Fs, path string) (ArtifactFileHeader, []byte, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return ArtifactFileHeader{}, nil, ferrors.WrapIO(path, err)
	}
	ra := bytes.NewReader(data)
	rd, err := NewReader(ra)
	if err != nil {
		return ArtifactFileHeader{}, nil, err
	}
	if rd.Tag() != ArtifactFileTag {
		return ArtifactFileHeader{}, nil, ferrors.Wrap(ferrors.IO, ferrors.ErrWrongContainerTag, path, "")
	}

	headerBytes, err := rd.ReadBlock(ra, 0)
	if err != nil {
		return ArtifactFileHeader{}, nil, err
	}
	header, err := decodeArtifactHeader(headerBytes)
	if err != nil {
		return ArtifactFileHeader{}, nil, err
	}

	payload, err := rd.ReadBlock(ra, 1)
	if err != nil {
		return ArtifactFileHeader{}, nil, err
	}
	payload, err = maybeDecompress(payload, header.PayloadCompressed)
	if err != nil {
		return ArtifactFileHeader{}, nil, err
	}
	return header, payload, nil
}

// DiskArtifactSink implements jobs.ArtifactSink by writing each artifact
// as a .bf file under root, named by its artifact id — the disk-backed
// counterpart to jobs.MemArtifactSink used in production rather than
// tests.
type DiskArtifactSink struct {
	fs   afero.Fs
	root string
}

func NewDiskArtifactSink(fs afero.Fs, root string) *DiskArtifactSink {
	return &DiskArtifactSink{fs: fs, root: root}
}

var _ jobs.ArtifactSink = (*DiskArtifactSink)(nil)

func (s *DiskArtifactSink) Write(a jobs.BuiltArtifact) error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return ferrors.WrapIO(s.root, err)
	}
	path := s.ArtifactPath(a.ArtifactId)
	return WriteArtifactFile(s.fs, path, a)
}

// ArtifactPath returns the path an artifact id would be written to,
// without requiring the artifact to already exist — used by readers that
// only know the id (e.g. a manifest entry).
func (s *DiskArtifactSink) ArtifactPath(id jobs.ArtifactId) string {
	return filepath.Join(s.root, fmt.Sprintf("%s.bf", id.String()))
}
