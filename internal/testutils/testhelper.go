package testutils

import (
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/eegbuds/internal/device/sim"
)

// SimSuite is a base suite that provides a fresh simulated earpiece pair per test.
//
//	type MySuite struct{ testutils.SimSuite }
//
//	func (s *MySuite) TestX() { s.Adapter.Earpiece("sim-left").Battery = 40 }
type SimSuite struct {
	suite.Suite
	Logger  *logrus.Logger
	Adapter *sim.Adapter
}

func (s *SimSuite) SetupTest() {
	s.Logger = logrus.New()
	s.Logger.SetLevel(logrus.WarnLevel)
	s.Adapter = sim.NewPair(s.Logger)
}

func (s *SimSuite) TearDownTest() {
	if s.Adapter != nil {
		s.Adapter.Close()
	}
}
