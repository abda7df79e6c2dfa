package watchdog

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// procEntry is one row of a process table snapshot.
type procEntry struct {
	PID  int32
	PPID int32
}

// collectTree returns root and all of its descendants in breadth-first order.
// Cycles in a corrupt snapshot are tolerated.
func collectTree(root int32, table []procEntry) []int32 {
	children := make(map[int32][]int32, len(table))
	for _, p := range table {
		if p.PID == p.PPID {
			continue
		}
		children[p.PPID] = append(children[p.PPID], p.PID)
	}
	seen := map[int32]bool{root: true}
	order := []int32{root}
	for i := 0; i < len(order); i++ {
		for _, c := range children[order[i]] {
			if seen[c] {
				continue
			}
			seen[c] = true
			order = append(order, c)
		}
	}
	return order
}

// deepestFirst reverses a breadth-first order so leaves are killed before
// their parents can respawn them.
func deepestFirst(bfs []int32) []int32 {
	out := make([]int32, len(bfs))
	for i, pid := range bfs {
		out[len(bfs)-1-i] = pid
	}
	return out
}

// snapshot reads the process table. Processes that vanish mid-scan are skipped.
func snapshot(ctx context.Context) ([]procEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]procEntry, 0, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, procEntry{PID: p.Pid, PPID: ppid})
	}
	return out, nil
}
