package process

import (
	gops "github.com/shirou/gopsutil/v3/process"
)

// Descendants returns the PIDs of all live processes below pid, nearest
// children first. Bundlers and test runners fork helpers (browsers, worker
// pools) that would otherwise survive a forced kill of their parent.
func Descendants(pid int) []int32 {
	if pid <= 0 {
		return nil
	}

	procs, err := gops.Processes()
	if err != nil {
		return nil
	}

	children := make(map[int32][]int32, len(procs))
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		children[ppid] = append(children[ppid], p.Pid)
	}

	var out []int32
	queue := []int32{int32(pid)}
	seen := map[int32]bool{int32(pid): true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range children[cur] {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

// KillPIDs sends SIGKILL to each PID, ignoring processes that are gone.
func KillPIDs(pids []int32) {
	for _, pid := range pids {
		p, err := gops.NewProcess(pid)
		if err != nil {
			continue
		}
		_ = p.Kill()
	}
}

// killTree sends SIGKILL to p and its descendants. Descendants are
// collected first because they are reparented once p dies.
func killTree(p *Process, descendants func(pid int) []int32) {
	var pids []int32
	if descendants != nil {
		pids = descendants(p.PID())
	}
	_ = p.Kill()
	KillPIDs(pids)
}
