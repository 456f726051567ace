package IO

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

type entry struct {
	shard  int
	offset int64
	frames int
}

// Dataset reads utterances back from the shards written by ShardWriter.
type Dataset struct {
	MelDim  int
	files   []*os.File
	entries []entry
}

// OpenDataset opens every shard prefix-000, prefix-001, ... that exists.
func OpenDataset(prefix string, melDim int) (*Dataset, error) {
	ds := &Dataset{MelDim: melDim}
	for shard := 0; ; shard++ {
		binPath := shardName(prefix, shard, "bin")
		if !fileExists(binPath) {
			break
		}
		idx, err := os.ReadFile(shardName(prefix, shard, "idx"))
		if err != nil {
			ds.Close()
			return nil, err
		}
		if len(idx)%16 != 0 {
			ds.Close()
			return nil, fmt.Errorf("%s: corrupt index (%d bytes)", shardName(prefix, shard, "idx"), len(idx))
		}
		f, err := os.Open(binPath)
		if err != nil {
			ds.Close()
			return nil, err
		}
		ds.files = append(ds.files, f)
		for i := 0; i < len(idx); i += 16 {
			ds.entries = append(ds.entries, entry{
				shard:  shard,
				offset: int64(binary.LittleEndian.Uint64(idx[i:])),
				frames: int(binary.LittleEndian.Uint64(idx[i+8:])),
			})
		}
	}
	if len(ds.files) == 0 {
		return nil, fmt.Errorf("no shards found for prefix %s", prefix)
	}
	return ds, nil
}

func (ds *Dataset) Len() int { return len(ds.entries) }

// Frames is the length of utterance i in raw frames.
func (ds *Dataset) Frames(i int) int { return ds.entries[i].frames }

// Utterance loads utterance i as (T x MelDim).
func (ds *Dataset) Utterance(i int) (*mat.Dense, error) {
	e := ds.entries[i]
	buf := make([]byte, 4*e.frames*ds.MelDim)
	if n, err := ds.files[e.shard].ReadAt(buf, e.offset); n < len(buf) {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("utterance %d: %w", i, err)
	}
	data := make([]float64, e.frames*ds.MelDim)
	for j := range data {
		data[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
	}
	return mat.NewDense(e.frames, ds.MelDim, data), nil
}

func (ds *Dataset) Close() error {
	var first error
	for _, f := range ds.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	ds.files = nil
	return first
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
