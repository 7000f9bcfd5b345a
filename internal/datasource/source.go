// Package datasource implements the Data Source (spec.md §4.D): persisting
// and loading assets between a Data Set and real storage, in either of two
// on-disk layouts. Both layouts are built against afero.Fs rather than the
// OS filesystem directly, so tests run against an in-memory filesystem with
// zero real I/O.
package datasource

import "github.com/foundryforge/foundry/internal/dataset"

// Source is the common persist/load_from_storage interface spec.md §4.D
// requires of both layouts.
type Source interface {
	ID() dataset.AID
	Persist(ds *dataset.DataSet) error
	LoadFromStorage(ds *dataset.DataSet) error
}
