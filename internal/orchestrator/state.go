package orchestrator

import (
	"time"

	"coffre/internal/installer"
	"coffre/internal/ipc"
)

// Phase identifies the top-level state of the application.
type Phase int

const (
	// PhaseLoading covers startup and any re-resolution of configuration.
	PhaseLoading Phase = iota
	// PhaseInstaller means no configuration exists and the first-launch
	// installer is collecting one.
	PhaseInstaller
	// PhaseConnecting means configuration is loaded and the orchestrator is
	// establishing (or re-establishing) a daemon session.
	PhaseConnecting
	// PhaseRunning means a verified daemon session is live.
	PhaseRunning
	// PhaseUnrecoverable is terminal until the configuration changes or the
	// caller requests a reconnect.
	PhaseUnrecoverable
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseInstaller:
		return "installer"
	case PhaseConnecting:
		return "connecting"
	case PhaseRunning:
		return "running"
	case PhaseUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// ConnPhase describes the connection sub-state while in PhaseConnecting or
// PhaseRunning.
type ConnPhase int

const (
	// ConnIdle means no attempt is in flight and none is scheduled.
	ConnIdle ConnPhase = iota
	// ConnDialing means an attempt is in flight or a retry is scheduled.
	ConnDialing
	// ConnEstablished means the session handshake succeeded.
	ConnEstablished
)

func (c ConnPhase) String() string {
	switch c {
	case ConnIdle:
		return "idle"
	case ConnDialing:
		return "dialing"
	case ConnEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// ConnState carries the observable detail of the connection cycle.
type ConnState struct {
	Phase ConnPhase
	// Attempt is 1-based within the current cycle; zero when idle.
	Attempt int
	// Started marks the beginning of the current cycle.
	Started time.Time
	// NextRetry is the delay before the next attempt, zero when none is
	// scheduled.
	NextRetry time.Duration
	// LastError describes the most recent failed attempt, if any.
	LastError string
}

// FailureKind is a machine-readable reason for PhaseUnrecoverable.
type FailureKind string

const (
	FailConfigInvalid      FailureKind = "config_invalid"
	FailExecutableNotFound FailureKind = "daemon_executable_not_found"
	FailLaunchFailed       FailureKind = "daemon_launch_failed"
	FailDaemonExited       FailureKind = "daemon_exited_early"
	FailRejected           FailureKind = "rpc_rejected"
	FailAttemptsExhausted  FailureKind = "attempts_exhausted"
	FailInternal           FailureKind = "internal_error"
)

// Failure explains why the orchestrator gave up.
type Failure struct {
	Kind   FailureKind
	Detail string
}

// DaemonInfo summarizes the daemon behind a running session.
type DaemonInfo struct {
	Version     string
	Network     string
	Blockheight int64
	PID         int
	// External is true when the daemon was already running and is not
	// owned by this process.
	External bool
}

// AppState is the full observable state. Exactly the fields relevant to
// Phase are populated: Installer in PhaseInstaller, Conn in PhaseConnecting
// and PhaseRunning, Daemon in PhaseRunning, Failure in PhaseUnrecoverable.
type AppState struct {
	Phase     Phase
	Installer *installer.Snapshot
	Conn      ConnState
	Daemon    *DaemonInfo
	Failure   *Failure
}

func daemonInfo(info *ipc.GetInfoResponse, external bool) *DaemonInfo {
	if info == nil {
		return &DaemonInfo{External: external}
	}
	return &DaemonInfo{
		Version:     info.Version,
		Network:     info.Network,
		Blockheight: info.Blockheight,
		PID:         info.PID,
		External:    external,
	}
}
