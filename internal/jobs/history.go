package jobs

import (
	"github.com/ugorji/go/codec"

	"github.com/foundryforge/foundry/internal/dataset"
	"github.com/foundryforge/foundry/internal/ferrors"
	"github.com/foundryforge/foundry/internal/kv"
)

var historyCBOR = &codec.CborHandle{}

// JobHistoryRecord is what's persisted in the JobHistory mdbx table: the
// metadata needed to decide cache reuse without reading a job's output
// file unless reuse is confirmed (spec.md §4.F algorithm, steps 1-3).
type JobHistoryRecord struct {
	Version          uint32                  `codec:"version"`
	Dependencies     JobEnumeratedDependencies `codec:"dependencies"`
	ImportDataHashes map[string]uint64       `codec:"import_data_hashes"` // dataset.AID.String() -> hash
	DownstreamJobs   []QueuedJob             `codec:"downstream_jobs"`
}

func encodeHistory(r JobHistoryRecord) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, historyCBOR)
	if err := enc.Encode(r); err != nil {
		return nil, ferrors.Wrap(ferrors.Build, err, "", "encode job history")
	}
	return buf, nil
}

func decodeHistory(data []byte) (JobHistoryRecord, error) {
	var r JobHistoryRecord
	dec := codec.NewDecoderBytes(data, historyCBOR)
	if err := dec.Decode(&r); err != nil {
		return JobHistoryRecord{}, ferrors.Wrap(ferrors.Build, err, "", "decode job history")
	}
	return r, nil
}

// loadHistory reads a job's persisted history, if any, from the JobHistory
// table. A missing entry is not an error — it just means the job has
// never run.
func loadHistory(store *kv.Store, id JobId) (JobHistoryRecord, bool, error) {
	var rec JobHistoryRecord
	var found bool
	err := store.View(func(tx *kv.Tx) error {
		data, ok, err := tx.Get(kv.JobHistory, id[:])
		if err != nil || !ok {
			return err
		}
		rec, err = decodeHistory(data)
		found = err == nil
		return err
	})
	return rec, found, err
}

func saveHistory(store *kv.Store, id JobId, rec JobHistoryRecord) error {
	data, err := encodeHistory(rec)
	if err != nil {
		return err
	}
	return store.Update(func(tx *kv.Tx) error {
		return tx.Put(kv.JobHistory, id[:], data)
	})
}

func importDataHashKey(aid dataset.AID) string { return aid.String() }
