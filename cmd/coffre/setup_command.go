package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"coffre/internal/config"
	"coffre/internal/installer"
)

func newSetupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactively create the coffre configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, ctx)
		},
	}
}

func runSetup(cmd *cobra.Command, ctx *commandContext) error {
	if _, err := ctx.ensureConfig(); err == nil {
		return fmt.Errorf("configuration already exists at %s", ctx.configPath)
	} else if !errors.Is(err, config.ErrNotFound) {
		return err
	}

	target := ctx.configPath
	out := cmd.OutOrStdout()
	reader := bufio.NewScanner(cmd.InOrStdin())
	machine := installer.New()

	fmt.Fprintf(out, "Setting up coffre. The configuration will be written to %s.\n", target)
	for machine.Step() != installer.StepCommit {
		input, err := promptStep(reader, out, machine.Step(), target)
		if err != nil {
			return err
		}
		if err := machine.Advance(input); err != nil {
			var instErr *installer.Error
			if errors.As(err, &instErr) {
				fmt.Fprintf(out, "  %s\n", instErr.Reason)
				continue
			}
			return err
		}
	}

	cfg, err := machine.Commit(target)
	if err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	fmt.Fprintf(out, "Configuration written to %s (network %s).\n", target, cfg.Network)
	fmt.Fprintln(out, "Run `coffre run` to start the session.")
	return nil
}

func promptStep(reader *bufio.Scanner, out io.Writer, step installer.Step, target string) (any, error) {
	switch step {
	case installer.StepNetwork:
		answer, err := prompt(reader, out, fmt.Sprintf("Network [%s] (default bitcoin): ", strings.Join(config.Networks, "/")))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			answer = "bitcoin"
		}
		return installer.NetworkInput{Network: answer}, nil
	case installer.StepDataDir:
		defaultDir := filepath.Dir(target)
		answer, err := prompt(reader, out, fmt.Sprintf("Data directory (default %s): ", defaultDir))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			answer = defaultDir
		}
		return installer.DataDirInput{Path: answer}, nil
	case installer.StepKeys:
		keysAnswer, err := prompt(reader, out, "Participant extended public keys (comma separated): ")
		if err != nil {
			return nil, err
		}
		var xpubs []string
		for _, xpub := range strings.Split(keysAnswer, ",") {
			if trimmed := strings.TrimSpace(xpub); trimmed != "" {
				xpubs = append(xpubs, trimmed)
			}
		}
		thresholdAnswer, err := prompt(reader, out, fmt.Sprintf("Signing threshold (1-%d): ", len(xpubs)))
		if err != nil {
			return nil, err
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(thresholdAnswer))
		if err != nil {
			threshold = 0
		}
		return installer.KeysInput{ParticipantXpubs: xpubs, Threshold: threshold}, nil
	case installer.StepReview:
		answer, err := prompt(reader, out, "Write this configuration? [y/N]: ")
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			return nil, errors.New("setup aborted")
		}
		return installer.ReviewInput{Confirmed: true}, nil
	default:
		return nil, fmt.Errorf("unexpected setup step %s", step)
	}
}

func prompt(reader *bufio.Scanner, out io.Writer, question string) (string, error) {
	fmt.Fprint(out, question)
	if !reader.Scan() {
		if err := reader.Err(); err != nil {
			return "", err
		}
		return "", errors.New("input closed")
	}
	return strings.TrimSpace(reader.Text()), nil
}
