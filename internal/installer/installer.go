package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coffre/internal/config"
)

// Step identifies one wizard position.
type Step int

const (
	StepNetwork Step = iota
	StepDataDir
	StepKeys
	StepReview
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepNetwork:
		return "choose-network"
	case StepDataDir:
		return "choose-datadir"
	case StepKeys:
		return "configure-keys"
	case StepReview:
		return "review"
	case StepCommit:
		return "commit"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Steps returns the wizard sequence in order.
func Steps() []Step {
	return []Step{StepNetwork, StepDataDir, StepKeys, StepReview, StepCommit}
}

// NetworkInput selects the chain the daemon will run on.
type NetworkInput struct {
	Network string
}

// DataDirInput selects where configuration and state will live.
type DataDirInput struct {
	Path string
}

// KeysInput carries the multisig parameters.
type KeysInput struct {
	ParticipantXpubs []string
	Threshold        int
}

// ReviewInput confirms the assembled configuration.
type ReviewInput struct {
	Confirmed bool
}

// Inputs accumulates everything entered so far. Values survive Back so the
// user can re-navigate forward without retyping.
type Inputs struct {
	Network          string
	DataDir          string
	ParticipantXpubs []string
	Threshold        int
	Confirmed        bool
}

// Snapshot is an immutable view of the wizard for the rendering layer.
type Snapshot struct {
	Step        Step
	Inputs      Inputs
	LastFailure string
}

// Machine is the installer state machine.
type Machine struct {
	step        Step
	inputs      Inputs
	lastFailure string
}

// New returns a machine positioned at the first step.
func New() *Machine {
	return &Machine{step: StepNetwork}
}

// Step returns the current wizard position.
func (m *Machine) Step() Step { return m.step }

// Snapshot returns a copy of the wizard state for display.
func (m *Machine) Snapshot() Snapshot {
	inputs := m.inputs
	inputs.ParticipantXpubs = append([]string(nil), m.inputs.ParticipantXpubs...)
	return Snapshot{Step: m.step, Inputs: inputs, LastFailure: m.lastFailure}
}

// Advance validates input for the current step and moves to the next one.
// On validation failure the step does not change and the reason is returned.
func (m *Machine) Advance(input any) error {
	var err error
	switch m.step {
	case StepNetwork:
		err = m.applyNetwork(input)
	case StepDataDir:
		err = m.applyDataDir(input)
	case StepKeys:
		err = m.applyKeys(input)
	case StepReview:
		err = m.applyReview(input)
	case StepCommit:
		err = m.failValidation("configuration is assembled; call Commit")
	}
	if err != nil {
		return err
	}
	m.step++
	m.lastFailure = ""
	return nil
}

// Back returns to the previous step. Already-entered input is preserved.
func (m *Machine) Back() error {
	if m.step == StepNetwork {
		return m.failValidation("already at the first step")
	}
	m.step--
	m.lastFailure = ""
	return nil
}

// Commit writes the assembled configuration to path atomically and returns
// it. Valid only once every step has been advanced through. A failed commit
// leaves no partial file and may be retried.
func (m *Machine) Commit(path string) (*config.Config, error) {
	if m.step != StepCommit {
		return nil, m.failValidation("cannot commit before completing all steps")
	}

	cfg := config.Default()
	cfg.DataDir = m.inputs.DataDir
	cfg.Network = m.inputs.Network
	cfg.Daemon.SocketPath = filepath.Join(m.inputs.DataDir, "coffred.sock")
	cfg.Vault = config.Vault{
		ParticipantXpubs: append([]string(nil), m.inputs.ParticipantXpubs...),
		Threshold:        m.inputs.Threshold,
	}

	if err := config.WriteAtomic(path, &cfg); err != nil {
		return nil, &Error{Kind: KindWriteFailed, Step: m.step, Err: err}
	}
	return &cfg, nil
}

func (m *Machine) applyNetwork(input any) error {
	in, ok := input.(NetworkInput)
	if !ok {
		return m.failValidation("expected a network choice")
	}
	network := strings.ToLower(strings.TrimSpace(in.Network))
	valid := false
	for _, candidate := range config.Networks {
		if network == candidate {
			valid = true
			break
		}
	}
	if !valid {
		return m.failValidation(fmt.Sprintf("network must be one of %s", strings.Join(config.Networks, "/")))
	}
	m.inputs.Network = network
	return nil
}

func (m *Machine) applyDataDir(input any) error {
	in, ok := input.(DataDirInput)
	if !ok {
		return m.failValidation("expected a data directory choice")
	}
	if strings.TrimSpace(in.Path) == "" {
		return m.failValidation("data directory must not be empty")
	}
	expanded, err := config.ExpandPath(in.Path)
	if err != nil {
		return m.failValidation(err.Error())
	}
	if info, statErr := os.Stat(expanded); statErr == nil && !info.IsDir() {
		return m.failValidation(fmt.Sprintf("%s exists and is not a directory", expanded))
	}
	m.inputs.DataDir = expanded
	return nil
}

func (m *Machine) applyKeys(input any) error {
	in, ok := input.(KeysInput)
	if !ok {
		return m.failValidation("expected multisig key parameters")
	}
	if len(in.ParticipantXpubs) == 0 {
		return m.failValidation("at least one participant key is required")
	}
	for i, xpub := range in.ParticipantXpubs {
		if err := config.CheckXpub(xpub); err != nil {
			return m.failValidation(fmt.Sprintf("participant %d: %v", i+1, err))
		}
	}
	if in.Threshold < 1 || in.Threshold > len(in.ParticipantXpubs) {
		return m.failValidation(fmt.Sprintf("threshold must be between 1 and %d", len(in.ParticipantXpubs)))
	}
	m.inputs.ParticipantXpubs = append([]string(nil), in.ParticipantXpubs...)
	m.inputs.Threshold = in.Threshold
	return nil
}

func (m *Machine) applyReview(input any) error {
	in, ok := input.(ReviewInput)
	if !ok {
		return m.failValidation("expected review confirmation")
	}
	if !in.Confirmed {
		return m.failValidation("review not confirmed")
	}
	m.inputs.Confirmed = true
	return nil
}

func (m *Machine) failValidation(reason string) *Error {
	m.lastFailure = reason
	return &Error{Kind: KindValidationFailed, Step: m.step, Reason: reason}
}
