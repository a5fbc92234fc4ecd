package worker

import "github.com/framefeed/display-pipeline/pkg/pipeline"

// Shard returns the subset of sources owned by taskIndex: source at
// position i belongs to shard i mod taskCount. The union of all shards
// over [0, taskCount) is exactly the input batch and shards are
// pairwise disjoint.
//
// Partitioning is positional, not content-hashed: it relies on every
// task instance observing the same fetch ordering. If the backend's
// pending query is not deterministically ordered, disjointness is not
// guaranteed here.
func Shard(sources []pipeline.Source, taskIndex, taskCount int) []pipeline.Source {
	if taskCount <= 1 {
		return sources
	}

	var owned []pipeline.Source
	for i, src := range sources {
		if i%taskCount == taskIndex {
			owned = append(owned, src)
		}
	}
	return owned
}
