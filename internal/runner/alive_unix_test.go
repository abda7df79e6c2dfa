//go:build !windows

package runner

import (
	"github.com/shirou/gopsutil/v4/process"
)

// alive treats zombies as dead: a killed grandchild may linger unreaped when
// the test runs under an init that does not collect orphans.
func alive(pid int) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil {
		return false
	}
	return len(st) == 0 || st[0] != process.Zombie
}
