package xvbd

import (
	"github.com/loykin/xvbd/internal/manager"
	"github.com/loykin/xvbd/internal/pool"
	"github.com/loykin/xvbd/internal/process"
	"github.com/loykin/xvbd/internal/state"
)

// minerTarget restarts the pool-facing program on the pool it was last
// switched to, so a restart does not silently fall back to P2Pool.
func minerTarget(rt *state.Runtime, eps pool.Endpoints, proxy bool) func(manager.Name, process.Spec) process.Spec {
	facing := manager.Xmrig
	if proxy {
		facing = manager.XmrigProxy
	}
	return func(name manager.Name, spec process.Spec) process.Spec {
		if name != facing {
			return spec
		}
		cur := rt.Stats().CurrentPool
		if !cur.IsXvb() {
			return spec
		}
		tgt, err := eps.Target(cur)
		if err != nil {
			return spec
		}
		args := append([]string(nil), spec.Args...)
		args = setFlag(args, "--url", tgt.URL)
		args = setFlag(args, "--user", tgt.User)
		args = setFlag(args, "--pass", tgt.Pass)
		if tgt.Rig != "" {
			args = setFlag(args, "--rig-id", tgt.Rig)
		}
		spec.Args = args
		return spec
	}
}

// setFlag replaces the value following flag, or appends flag and value.
func setFlag(args []string, flag, value string) []string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			args[i+1] = value
			return args
		}
	}
	return append(args, flag, value)
}
