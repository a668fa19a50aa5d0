package log

import (
	"bytes"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
)

type baseLogTestSuite struct {
	suite.Suite

	buffer bytes.Buffer
	saved  zerolog.Logger
}

func (s *baseLogTestSuite) SetupTest() {
	s.saved = Logger
	Logger = zerolog.New(&s.buffer).Level(zerolog.TraceLevel)
	s.buffer.Reset()
}

func (s *baseLogTestSuite) TearDownTest() {
	Logger = s.saved
}

func (s *baseLogTestSuite) assertMsg(expected string) {
	s.Assert().Equal(expected, s.buffer.String())
}
