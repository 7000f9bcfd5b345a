// Package ferrors defines the error taxonomy shared by every Foundry
// component. Each Kind groups a family of sentinel causes; callers compare
// with errors.Is against the sentinels, not against Kind, since a single
// Kind (e.g. DataSetError) covers many distinct causes.
package ferrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which component raised an error.
type Kind string

const (
	Schema  Kind = "schema"
	DataSet Kind = "dataset"
	Import  Kind = "import"
	Build   Kind = "build"
	IO      Kind = "io"
)

// Sentinel causes, grouped by taxonomy section in spec.md §7.
var (
	// SchemaError
	ErrDanglingReference   = errors.New("dangling reference")
	ErrDuplicateName       = errors.New("duplicate name")
	ErrAliasCollision      = errors.New("alias collision")
	ErrInvalidSchema       = errors.New("invalid schema")
	ErrUnexpectedEnumSymbol = errors.New("unexpected enum symbol")

	// DataSetError
	ErrAssetNotFound                 = errors.New("asset not found")
	ErrPathNotFound                  = errors.New("path not found")
	ErrPathParentIsNull              = errors.New("path parent is null")
	ErrDynamicArrayEntryMissing      = errors.New("dynamic array entry missing")
	ErrValueDoesNotMatchSchema       = errors.New("value does not match schema")
	ErrNewLocationIsChildOfCurrentAsset = errors.New("new location is a descendant of the asset being moved")
	ErrPrototypeCycle                = errors.New("prototype cycle")
	ErrNoPrototype                   = errors.New("asset has no prototype")

	// ImportError
	ErrUnknownPathNamespace     = errors.New("unknown path namespace")
	ErrImporterNotFoundForExt   = errors.New("no importer registered for extension")
	ErrImporterRejectedFile     = errors.New("importer rejected file")
	ErrImportableNotDeclared    = errors.New("importable not declared by scan")
	ErrDuplicateImportable      = errors.New("duplicate importable")

	// BuildError
	ErrUndeclaredDependency = errors.New("undeclared dependency")
	ErrMissingImportData    = errors.New("missing import data")
	ErrProcessorPanic       = errors.New("processor panicked")
	ErrDependencyFailed     = errors.New("dependency job failed")

	// IOError (B3F container / artifact / manifest file handling)
	ErrBlockIndexOutOfRange = errors.New("block index out of range")
	ErrWrongContainerTag    = errors.New("unexpected container tag")
)

// Error wraps a sentinel cause with the Kind that raised it and optional
// path/message context, matching the IoError "wraps any filesystem error
// with the offending path" requirement.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Message != "":
		return fmt.Sprintf("%s: %s (%s): %s", e.Kind, e.cause, e.Path, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.cause, e.Path)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.cause, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.cause)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap builds an Error, attaching a stack trace to the sentinel cause via
// pkg/errors so the first occurrence in a log carries a traceable origin.
func Wrap(kind Kind, cause error, path, message string) *Error {
	return &Error{Kind: kind, Path: path, Message: message, cause: errors.WithStack(cause)}
}

// WrapIO wraps a filesystem error with the offending path, per spec.md §7.
func WrapIO(path string, cause error) *Error {
	return Wrap(IO, cause, path, "")
}
