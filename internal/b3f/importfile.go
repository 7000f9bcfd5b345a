package b3f

import (
	"bytes"
	"os"

	"github.com/spf13/afero"
	"github.com/ugorji/go/codec"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
)

// ImportFileTag is the container tag for a .if file: block 0 a CBOR
// metadata header, block 1 the default asset's property bag as JSON,
// block 2 the import-data bag as JSON (spec.md §4.H).
var ImportFileTag = [4]byte{'H', 'Y', 'I', 'F'}

const importFileVersion uint16 = 1

var b3fCBOR = &codec.CborHandle{}

// ImportFileHeader is the bincode-equivalent metadata the original keeps
// in block 0 (import_storage.rs's ImportDataHeader): enough to decide
// whether a re-scan of the source file can be skipped without opening it.
type ImportFileHeader struct {
	SourceFileModifiedUnixNano int64  `codec:"source_modified"`
	SourceFileSizeBytes        int64  `codec:"source_size"`
	ImporterId                 string `codec:"importer_id"`
	// ImportDataCompressed reports whether block 2 is Snappy-compressed;
	// the import-data bag is the block most likely to carry large raw
	// buffers (e.g. decoded pixels), so it's the only one worth the check.
	ImportDataCompressed bool `codec:"import_data_compressed"`
}

// ImportFile is the decoded contents of a .if file.
type ImportFile struct {
	Header       ImportFileHeader
	DefaultAsset map[dataset.Path]dataset.Value
	ImportData   map[dataset.Path]dataset.Value
}

func encodeImportHeader(h ImportFileHeader) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, b3fCBOR)
	if err := enc.Encode(h); err != nil {
		return nil, ferrors.Wrap(ferrors.IO, err, "", "b3f: encode import file header")
	}
	return buf, nil
}

func decodeImportHeader(data []byte) (ImportFileHeader, error) {
	var h ImportFileHeader
	dec := codec.NewDecoderBytes(data, b3fCBOR)
	if err := dec.Decode(&h); err != nil {
		return ImportFileHeader{}, ferrors.Wrap(ferrors.IO, err, "", "b3f: decode import file header")
	}
	return h, nil
}

// WriteImportFile serializes f to path via fs, writing to a temp sibling
// file and renaming into place so a reader never observes a partial file
// (the same write-then-rename discipline spec.md §4.H calls for).
func WriteImportFile(fs afero.Fs, path string, f ImportFile) error {
	defaultBytes, err := encodePropertyBag(f.DefaultAsset)
	if err != nil {
		return err
	}
	importBytes, err := encodePropertyBag(f.ImportData)
	if err != nil {
		return err
	}
	importBytes, compressed := maybeCompress(importBytes)
	f.Header.ImportDataCompressed = compressed

	headerBytes, err := encodeImportHeader(f.Header)
	if err != nil {
		return err
	}

	w := NewWriter(ImportFileTag, importFileVersion)
	w.AddBlock(headerBytes)
	w.AddBlock(defaultBytes)
	w.AddBlock(importBytes)

	return writeContainerAtomically(fs, path, w)
}

// ReadImportFile opens and fully decodes the .if file at path.
func ReadImportFile(fs afero.Fs, path string) (ImportFile, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return ImportFile{}, ferrors.WrapIO(path, err)
	}
	ra := bytes.NewReader(data)
	rd, err := NewReader(ra)
	if err != nil {
		return ImportFile{}, err
	}
	if rd.Tag() != ImportFileTag {
		return ImportFile{}, ferrors.Wrap(ferrors.IO, ferrors.ErrWrongContainerTag, path, "")
	}

	headerBytes, err := rd.ReadBlock(ra, 0)
	if err != nil {
		return ImportFile{}, err
	}
	header, err := decodeImportHeader(headerBytes)
	if err != nil {
		return ImportFile{}, err
	}

	defaultBytes, err := rd.ReadBlock(ra, 1)
	if err != nil {
		return ImportFile{}, err
	}
	defaultAsset, err := decodePropertyBag(defaultBytes)
	if err != nil {
		return ImportFile{}, err
	}

	importBytes, err := rd.ReadBlock(ra, 2)
	if err != nil {
		return ImportFile{}, err
	}
	importBytes, err = maybeDecompress(importBytes, header.ImportDataCompressed)
	if err != nil {
		return ImportFile{}, err
	}
	importData, err := decodePropertyBag(importBytes)
	if err != nil {
		return ImportFile{}, err
	}

	return ImportFile{Header: header, DefaultAsset: defaultAsset, ImportData: importData}, nil
}

// writeContainerAtomically writes w to a ".tmp" sibling of path, then
// renames it into place. Shared by import and artifact files.
func writeContainerAtomically(fs afero.Fs, path string, w *Writer) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ferrors.WrapIO(path, err)
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return ferrors.WrapIO(path, err)
	}
	if err := f.Close(); err != nil {
		return ferrors.WrapIO(path, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return ferrors.WrapIO(path, err)
	}
	return nil
}
