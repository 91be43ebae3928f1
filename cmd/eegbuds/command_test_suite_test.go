package main

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/srg/eegbuds/internal/device"
	"github.com/srg/eegbuds/internal/testutils"
	"github.com/srg/eegbuds/pkg/config"
)

// CommandTestSuite runs commands against one simulated pair per test.
// All cmd/eegbuds suites embed it.
type CommandTestSuite struct {
	testutils.SimSuite
	origAdapter func(*config.Config, *logrus.Logger) (device.LinkAdapter, func(), error)
}

func (s *CommandTestSuite) SetupTest() {
	s.SimSuite.SetupTest()
	s.origAdapter = newAdapter
	newAdapter = func(*config.Config, *logrus.Logger) (device.LinkAdapter, func(), error) {
		return s.Adapter, func() {}, nil
	}
	// keep a developer's config and .env out of the tests
	s.T().Setenv("XDG_CONFIG_HOME", s.T().TempDir())
	s.T().Setenv("HOME", s.T().TempDir())
	resetFlags(rootCmd)
}

func (s *CommandTestSuite) TearDownTest() {
	newAdapter = s.origAdapter
	s.SimSuite.TearDownTest()
}

// resetFlags puts every flag of cmd and its children back to its default,
// undoing values left by a previous Execute.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args and returns what the
// command wrote to its output.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--env", ""))
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// WriteConfig writes a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := s.T().TempDir() + "/config.yaml"
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}
