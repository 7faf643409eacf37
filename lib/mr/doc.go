// Package mr implements cluster-wide map/reduce over partitioned datasets.
//
// A dataset is a header (Dataset) stored under a vec key and a list of chunks
// stored under the chunk keys of that vec key. The store places chunks with a
// grouped round robin, so every chunk has exactly one home node.
//
// A job is two nested binary divide-and-conquers:
//
//	members [0,4)                       on node 0
//	├── [0,2)  local                    on node 0
//	│   ├── [0,1) local chunks of node 0
//	│   └── [1,2) remote split ───────► node 1
//	└── [2,4)  remote split ──────────► node 2
//	    ├── [2,3) local chunks of node 2
//	    └── [3,4) remote split ───────► node 3
//
// At the node level the member range is split at its midpoint. The half holding
// the executing node is processed locally, the other half is shipped to its first
// member as a remote task running one priority above the caller. At the chunk
// level the local chunk list is split likewise: the right half is forked to the
// scheduler, the left half runs inline, until a single chunk is left and the
// task's Map runs on it exactly once. Partial results fold upward through
// Task.Reduce, remote results once their call returned.
//
// Jobs started WithOutput write the rows produced by Map as provisional chunks
// of a new dataset sharing the input's group, so every output chunk is stored on
// the node that produced it. The output's header is only published after every
// split completed, the dataset is not visible before.
//
// Usage:
//
//	engine := mr.NewEngine(m, s, members, false, set, stats)
//	ds, err := mr.PutDataset(ctx, s, "numbers", 0, chunks)
//	res, err := engine.RunAll(ctx, ds, &mr.SumTask{})
//	fmt.Println(res.(*mr.SumTask).Sum)
package mr
