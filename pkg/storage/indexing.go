package storage

import (
	"sort"

	"github.com/vjranagit/lightcurve/pkg/types"
)

// Index maps source ids to the datasets that contain them.
// It is not safe for concurrent use; badgerStorage guards it with its own lock.
type Index struct {
	// Maps dataset ID to its description
	datasets map[string]types.DatasetInfo
	// Inverted index: source id -> dataset IDs
	sourceIndex map[types.SourceID][]string
}

// NewIndex creates a new index
func NewIndex() *Index {
	return &Index{
		datasets:    make(map[string]types.DatasetInfo),
		sourceIndex: make(map[types.SourceID][]string),
	}
}

// Add indexes a dataset, replacing an earlier entry with the same ID
func (idx *Index) Add(info types.DatasetInfo) {
	if _, exists := idx.datasets[info.ID]; exists {
		idx.Remove(info.ID)
	}

	idx.datasets[info.ID] = info
	for _, src := range info.Sources {
		idx.sourceIndex[src] = append(idx.sourceIndex[src], info.ID)
	}
}

// Remove drops a dataset from the index
func (idx *Index) Remove(id string) {
	info, ok := idx.datasets[id]
	if !ok {
		return
	}
	delete(idx.datasets, id)

	for _, src := range info.Sources {
		ids := idx.sourceIndex[src]
		kept := ids[:0]
		for _, other := range ids {
			if other != id {
				kept = append(kept, other)
			}
		}
		if len(kept) == 0 {
			delete(idx.sourceIndex, src)
		} else {
			idx.sourceIndex[src] = kept
		}
	}
}

// Get returns a dataset description by ID
func (idx *Index) Get(id string) (types.DatasetInfo, bool) {
	info, ok := idx.datasets[id]
	return info, ok
}

// FindDatasets returns the IDs of datasets containing every given source.
// With no sources it returns all dataset IDs.
func (idx *Index) FindDatasets(sources ...types.SourceID) []string {
	if len(sources) == 0 {
		result := make([]string, 0, len(idx.datasets))
		for id := range idx.datasets {
			result = append(result, id)
		}
		sort.Strings(result)
		return result
	}

	// Find intersection of matching datasets across all sources
	var result []string
	for i, src := range sources {
		ids, ok := idx.sourceIndex[src]
		if !ok {
			return nil // Source never uploaded
		}

		if i == 0 {
			result = append([]string(nil), ids...)
			sort.Strings(result)
		} else {
			result = intersect(result, ids)
		}

		if len(result) == 0 {
			return nil
		}
	}

	return result
}

// Sources returns every indexed source id in sorted order
func (idx *Index) Sources() []types.SourceID {
	out := make([]types.SourceID, 0, len(idx.sourceIndex))
	for src := range idx.sourceIndex {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DatasetCount returns the number of indexed datasets
func (idx *Index) DatasetCount() int {
	return len(idx.datasets)
}

// intersect finds common elements of a sorted slice and an unsorted one
func intersect(a, b []string) []string {
	b = append([]string(nil), b...)
	sort.Strings(b)

	result := make([]string, 0)
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}

// Clear clears the index
func (idx *Index) Clear() {
	idx.datasets = make(map[string]types.DatasetInfo)
	idx.sourceIndex = make(map[types.SourceID][]string)
}
