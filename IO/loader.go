package IO

import (
	"io"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// BucketLoader groups utterances of similar length into padded batches.
// Every batch comes wrapped in a singleton leading dimension (1 x B x T x D).
type BucketLoader struct {
	ds      *Dataset
	buckets [][]int
	rng     *rand.Rand // nil keeps bucket order fixed
}

// NewBucketLoader sorts utterances longest first and cuts them into buckets
// of batchSize, halved when a bucket's longest utterance exceeds
// halfBatchLen frames. Utterances longer than maxTimestep are skipped
// (0 keeps everything).
func NewBucketLoader(ds *Dataset, batchSize, maxTimestep, halfBatchLen int, rng *rand.Rand) *BucketLoader {
	order := make([]int, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		if maxTimestep > 0 && ds.Frames(i) > maxTimestep {
			continue
		}
		order = append(order, i)
	}
	sort.SliceStable(order, func(a, b int) bool { return ds.Frames(order[a]) > ds.Frames(order[b]) })

	var buckets [][]int
	for len(order) > 0 {
		bs := batchSize
		if halfBatchLen > 0 && ds.Frames(order[0]) > halfBatchLen {
			bs = max(batchSize/2, 1)
		}
		bs = min(bs, len(order))
		buckets = append(buckets, order[:bs:bs])
		order = order[bs:]
	}
	return &BucketLoader{ds: ds, buckets: buckets, rng: rng}
}

// Len is the number of batches per epoch.
func (l *BucketLoader) Len() int { return len(l.buckets) }

// Iterator yields one epoch of batches, then io.EOF.
type Iterator interface {
	Next() ([][]*mat.Dense, error)
}

type bucketIter struct {
	l     *BucketLoader
	order []int
	pos   int
}

// Iter starts an epoch, shuffling bucket order when the loader has a rng.
func (l *BucketLoader) Iter() Iterator {
	order := make([]int, len(l.buckets))
	for i := range order {
		order[i] = i
	}
	if l.rng != nil {
		l.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	return &bucketIter{l: l, order: order}
}

func (it *bucketIter) Next() ([][]*mat.Dense, error) {
	if it.pos >= len(it.order) {
		return nil, io.EOF
	}
	ids := it.l.buckets[it.order[it.pos]]
	it.pos++

	T := 0
	for _, id := range ids {
		T = max(T, it.l.ds.Frames(id))
	}
	batch := make([]*mat.Dense, len(ids))
	for i, id := range ids {
		u, err := it.l.ds.Utterance(id)
		if err != nil {
			return nil, err
		}
		r, c := u.Dims()
		padded := mat.NewDense(T, c, nil)
		padded.Slice(0, r, 0, c).(*mat.Dense).Copy(u)
		batch[i] = padded
	}
	return [][]*mat.Dense{batch}, nil
}
