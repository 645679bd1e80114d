package walog

// Mutation is one committed key change a recovery replay hands back
// to the caller, in log order.
type Mutation struct {
	BTreeID  uint64
	Op       Op
	Key      []byte
	Value    []byte
	CommitTS uint64
}

// txnGroup accumulates one transaction's entries until its commit
// marker (or end of log, meaning it never committed) is seen.
type txnGroup struct {
	startLSN uint64
	muts     []Mutation
	commitTS uint64
	committed bool
}

// Recover reads every segment under dir and returns the mutations of
// every transaction that reached a commit marker and whose first entry
// comes at or after the last checkpoint marker, in original log order. An uncommitted
// transaction's writes are discarded, matching the redo-log
// requirement that only durable commits replay.
func Recover(dir string) ([]Mutation, uint64, error) {
	entries, err := ReadAll(dir)
	if err == ErrNoSegments {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var lastCheckpointLSN uint64
	for _, e := range entries {
		if e.Op == OpCheckpoint && e.LSN > lastCheckpointLSN {
			lastCheckpointLSN = e.LSN
		}
	}

	groups := make(map[uint64]*txnGroup)
	var order []uint64

	for _, e := range entries {
		switch e.Op {
		case OpCheckpoint:
			continue
		case OpCommit:
			if g, ok := groups[e.TxnID]; ok {
				g.committed = true
				g.commitTS = e.CommitTS
			}
		default:
			g, ok := groups[e.TxnID]
			if !ok {
				g = &txnGroup{startLSN: e.LSN}
				groups[e.TxnID] = g
				order = append(order, e.TxnID)
			}
			g.muts = append(g.muts, Mutation{
				BTreeID: e.BTreeID,
				Op:      e.Op,
				Key:     e.Key,
				Value:   e.Value,
			})
		}
	}

	var out []Mutation
	var maxCommitTS uint64
	for _, id := range order {
		g := groups[id]
		if !g.committed || g.startLSN < lastCheckpointLSN {
			continue
		}
		for i := range g.muts {
			g.muts[i].CommitTS = g.commitTS
		}
		out = append(out, g.muts...)
		if g.commitTS > maxCommitTS {
			maxCommitTS = g.commitTS
		}
	}

	return out, maxCommitTS, nil
}
