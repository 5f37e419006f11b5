package transport

import (
	"testing"

	"github.com/pkg/errors"
	hid "github.com/sstallion/go-hid"
	. "gopkg.in/check.v1"
)

func Test(t *testing.T) { TestingT(t) }

type TestSuite struct{}

var _ = Suite(&TestSuite{})

func (s *TestSuite) TestReadTimeoutMapsToRecvTimeout(c *C) {
	// A quiet poll must come back as the ErrRecvTimeout sentinel, not a
	// wrapped failure, or read loops built on it abort on the first
	// stretch of silence.
	err := translateReadError(hid.ErrTimeout, "/dev/hidraw0")
	c.Assert(err, Equals, ErrRecvTimeout)

	err = translateReadError(errors.Wrap(hid.ErrTimeout, "hid read"), "/dev/hidraw0")
	c.Assert(err, Equals, ErrRecvTimeout)
}

func (s *TestSuite) TestReadFailureIsWrapped(c *C) {
	cause := errors.New("device unplugged")
	err := translateReadError(cause, "/dev/hidraw0")
	c.Assert(err, Not(Equals), ErrRecvTimeout)
	c.Assert(errors.Cause(err), Equals, cause)
	c.Assert(err, ErrorMatches, ".*hidraw0.*")
}
