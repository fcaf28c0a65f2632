package sandbox

import (
	"github.com/docker/docker/api/types/container"
)

// In-container contract shared with the evaluator image.
const (
	DataDir    = "/data"
	DataDirEnv = "DATA_DIR"
	WorkingDir = "/app"
	User       = "nobody"
)

// Resource ceilings. These are the security boundary for untrusted code and
// are the same for every sandbox.
const (
	MemoryLimitBytes int64 = 50 * 1024 * 1024
	CPUPeriod        int64 = 100000
	CPUQuota         int64 = 50000 // half of one core
	PidsLimit        int64 = 64

	// MaxOutputBytes bounds how much framed output is buffered per run.
	MaxOutputBytes = 4 * 1024 * 1024
)

// Policy describes the isolation applied to a sandbox
type Policy struct {
	MemoryBytes     int64
	MemorySwapBytes int64
	CPUPeriod       int64
	CPUQuota        int64
	PidsLimit       int64
	NetworkMode     string
	ReadonlyRootfs  bool
	CapDrop         []string
	SecurityOpt     []string
	User            string
}

// DefaultPolicy returns the fixed sandbox policy
func DefaultPolicy() Policy {
	return Policy{
		MemoryBytes:     MemoryLimitBytes,
		MemorySwapBytes: MemoryLimitBytes, // equal to memory: no swap
		CPUPeriod:       CPUPeriod,
		CPUQuota:        CPUQuota,
		PidsLimit:       PidsLimit,
		NetworkMode:     "none",
		ReadonlyRootfs:  true,
		CapDrop:         []string{"ALL"},
		SecurityOpt:     []string{"no-new-privileges:true"},
		User:            User,
	}
}

func (p Policy) containerConfig(image string) *container.Config {
	return &container.Config{
		Image:           image,
		WorkingDir:      WorkingDir,
		Env:             []string{DataDirEnv + "=" + DataDir},
		User:            p.User,
		AttachStdout:    true,
		AttachStderr:    true,
		Tty:             false,
		NetworkDisabled: p.NetworkMode == "none",
	}
}

func (p Policy) hostConfig(hostDir string) *container.HostConfig {
	pids := p.PidsLimit
	return &container.HostConfig{
		AutoRemove:     true,
		NetworkMode:    container.NetworkMode(p.NetworkMode),
		Binds:          []string{hostDir + ":" + DataDir + ":rw"},
		ReadonlyRootfs: p.ReadonlyRootfs,
		CapDrop:        append([]string(nil), p.CapDrop...),
		SecurityOpt:    append([]string(nil), p.SecurityOpt...),
		Privileged:     false,
		Resources: container.Resources{
			Memory:     p.MemoryBytes,
			MemorySwap: p.MemorySwapBytes,
			CPUPeriod:  p.CPUPeriod,
			CPUQuota:   p.CPUQuota,
			PidsLimit:  &pids,
		},
	}
}
