package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/device/sim"
	"github.com/srg/eegbuds/internal/testutils"
	"github.com/srg/eegbuds/pkg/config"
)

type TargetsTestSuite struct {
	testutils.SimSuite
	cfg *config.Config
}

func (s *TargetsTestSuite) SetupTest() {
	s.SimSuite.SetupTest()
	s.cfg = config.DefaultConfig()
	s.cfg.ScanTimeout = 150 * time.Millisecond
}

func (s *TargetsTestSuite) resolve(args ...string) ([]target, error) {
	return resolveTargets(context.Background(), s.cfg, s.Adapter, s.Logger, args)
}

func (s *TargetsTestSuite) TestArgsWinOverConfig() {
	s.cfg.Left, s.cfg.Right = "cfg-left", "cfg-right"
	got, err := s.resolve("a", "b")
	s.Require().NoError(err)
	s.Equal([]target{{headset.Left, "a"}, {headset.Right, "b"}}, got)

	got, err = s.resolve("a")
	s.Require().NoError(err)
	s.Equal([]target{{headset.Left, "a"}, {headset.Right, "cfg-right"}}, got)
}

func (s *TargetsTestSuite) TestNamedSides() {
	got, err := s.resolve("R=b", "left=a")
	s.Require().NoError(err)
	s.Equal([]target{{headset.Left, "a"}, {headset.Right, "b"}}, got)

	got, err = s.resolve("right=custom-right")
	s.Require().NoError(err)
	s.Equal([]target{{headset.Left, "sim-left"}, {headset.Right, "custom-right"}}, got)
}

func (s *TargetsTestSuite) TestNamedSideErrors() {
	_, err := s.resolve("middle=a")
	s.ErrorContains(err, "invalid role")

	_, err = s.resolve("left=")
	s.ErrorContains(err, "empty link id")

	_, err = s.resolve("b", "left=a")
	s.ErrorContains(err, "left earpiece given twice")

	s.cfg.Roles = 1
	_, err = s.resolve("right=a")
	s.ErrorContains(err, "right earpiece given")
}

func (s *TargetsTestSuite) TestDiscoversMissingSide() {
	got, err := s.resolve("custom-left")
	s.Require().NoError(err)
	s.Equal([]target{{headset.Left, "custom-left"}, {headset.Right, "sim-right"}}, got)
}

func (s *TargetsTestSuite) TestSingleRoleTakesWhateverIsAround() {
	s.Adapter.Close()
	s.Adapter = sim.New(s.Logger, sim.NewEarpiece("only-right", "EEG-Ear R"))
	s.cfg.Roles = 1

	got, err := s.resolve()
	s.Require().NoError(err)
	s.Equal([]target{{headset.Left, "only-right"}}, got)
}

func (s *TargetsTestSuite) TestMissingSide() {
	s.Adapter.Close()
	s.Adapter = sim.New(s.Logger, sim.NewEarpiece("only-left", "EEG-Ear L"))

	_, err := s.resolve()
	s.True(errors.Is(err, ErrNoEarpieces))
	s.ErrorContains(err, "right earpiece")
}

func (s *TargetsTestSuite) TestTooManyArgs() {
	s.cfg.Roles = 1
	_, err := s.resolve("a", "b")
	s.ErrorContains(err, "at most 1")
}

func TestTargetsTestSuite(t *testing.T) {
	suite.Run(t, new(TargetsTestSuite))
}
