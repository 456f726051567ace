package IO

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// ShardWriter writes utterances to a binary data file plus an index:
//
//   - .bin = concatenated little-endian float32 frames (row-major, MelDim wide)
//   - .idx = int64 pairs (byte offset, frame count) per utterance
//
// It rolls over to a new shard once the current one reaches maxShardBytes.
type ShardWriter struct {
	prefix        string
	melDim        int
	maxShardBytes int64

	shard int
	dataF *os.File
	idxF  *os.File
	wData *bufio.Writer
	wIdx  *bufio.Writer
	cur   int64
	count int
}

func NewShardWriter(outPrefix string, melDim int, maxShardBytes int64) (*ShardWriter, error) {
	w := &ShardWriter{prefix: outPrefix, melDim: melDim, maxShardBytes: maxShardBytes}
	if err := w.openShard(); err != nil {
		return nil, err
	}
	return w, nil
}

func shardName(prefix string, shard int, ext string) string {
	return fmt.Sprintf("%s-%03d.%s", prefix, shard, ext)
}

func (w *ShardWriter) openShard() error {
	if err := w.closeShard(); err != nil {
		return err
	}
	var err error
	w.dataF, err = os.Create(shardName(w.prefix, w.shard, "bin"))
	if err != nil {
		return err
	}
	w.idxF, err = os.Create(shardName(w.prefix, w.shard, "idx"))
	if err != nil {
		return err
	}
	w.wData = bufio.NewWriter(w.dataF)
	w.wIdx = bufio.NewWriter(w.idxF)
	w.cur = 0
	return nil
}

func (w *ShardWriter) closeShard() error {
	if w.dataF == nil {
		return nil
	}
	if err := w.wData.Flush(); err != nil {
		return err
	}
	if err := w.wIdx.Flush(); err != nil {
		return err
	}
	if err := w.dataF.Close(); err != nil {
		return err
	}
	err := w.idxF.Close()
	w.dataF, w.idxF = nil, nil
	return err
}

// Write appends one (T x MelDim) utterance.
func (w *ShardWriter) Write(frames *mat.Dense) error {
	T, D := frames.Dims()
	if D != w.melDim {
		return fmt.Errorf("utterance has %d features per frame, shard expects %d", D, w.melDim)
	}
	if w.maxShardBytes > 0 && w.cur > 0 && w.cur >= w.maxShardBytes {
		w.shard++
		if err := w.openShard(); err != nil {
			return err
		}
	}

	buf8 := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf8, uint64(w.cur))
	if _, err := w.wIdx.Write(buf8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf8, uint64(T))
	if _, err := w.wIdx.Write(buf8); err != nil {
		return err
	}

	buf4 := make([]byte, 4)
	for t := 0; t < T; t++ {
		for _, v := range frames.RawRowView(t) {
			binary.LittleEndian.PutUint32(buf4, math.Float32bits(float32(v)))
			if _, err := w.wData.Write(buf4); err != nil {
				return err
			}
		}
	}
	w.cur += int64(4 * T * D)
	w.count++
	return nil
}

// Count is the number of utterances written so far.
func (w *ShardWriter) Count() int { return w.count }

func (w *ShardWriter) Close() error { return w.closeShard() }

// ReadRawFeatures loads a headerless little-endian float32 file of
// (T x melDim) frames.
func ReadRawFeatures(path string, melDim int) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	raw, err := io.ReadAll(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	rowBytes := 4 * melDim
	if len(raw) == 0 || len(raw)%rowBytes != 0 {
		return nil, fmt.Errorf("%s: %d bytes is not a whole number of %d-wide frames", path, len(raw), melDim)
	}
	data := make([]float64, len(raw)/4)
	for i := range data {
		data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return mat.NewDense(len(raw)/rowBytes, melDim, data), nil
}

// ExportFeatureShards converts raw float32 feature files into shards under
// outPrefix and returns how many utterances were written.
func ExportFeatureShards(inPaths []string, melDim int, outPrefix string, maxShardBytes int64) (int, error) {
	w, err := NewShardWriter(outPrefix, melDim, maxShardBytes)
	if err != nil {
		return 0, err
	}
	for _, p := range inPaths {
		frames, err := ReadRawFeatures(p, melDim)
		if err != nil {
			w.Close()
			return w.Count(), err
		}
		if err := w.Write(frames); err != nil {
			w.Close()
			return w.Count(), err
		}
	}
	return w.Count(), w.Close()
}
