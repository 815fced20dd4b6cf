package marine

import (
	"math/rand"
	"sync"
	"time"
)

const maxMarineID = 999999

// Factory spawns marine batches. Safe for concurrent use.
type Factory struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewFactory(seed int64) *Factory {
	return &Factory{rng: rand.New(rand.NewSource(seed))}
}

// NewLocalFactory は現在時刻をシードにした Factory を返す
func NewLocalFactory() *Factory {
	return NewFactory(time.Now().UnixNano())
}

// Create returns amount marines bound to size. Ids are unique within the batch
// and never collide with taken; positions fall inside [1,width] x [1,height].
func (f *Factory) Create(size Size, amount int, taken map[int32]bool) []*Marine {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[int32]bool, amount)
	ids := make([]int32, 0, amount)
	for len(ids) < amount {
		id := int32(f.rng.Intn(maxMarineID) + 1)
		if taken[id] || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	marines := make([]*Marine, 0, amount)
	for _, id := range ids {
		pos := Position{
			X: float64(f.coordinate(size.Width)),
			Z: float64(f.coordinate(size.Height)),
		}
		marines = append(marines, New(id, pos, size))
	}
	return marines
}

func (f *Factory) coordinate(limit int32) int32 {
	if limit < 1 {
		return 0
	}
	return int32(f.rng.Intn(int(limit))) + 1
}
