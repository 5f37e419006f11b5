package devconn

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	. "gopkg.in/check.v1"
)

func newPageClient(ps *pageStore) *Client {
	st := newSimTransport(func(st *simTransport, req *Request, bulk []byte) {
		switch req.Command {
		case CmdPutConfigPage:
			ps.handlePut(st, req, bulk)
		case CmdGetConfigPage:
			ps.handleGet(st, req)
		default:
			st.replyStatus(req, StatusBadCommand)
		}
	})
	cl := NewClient(st)
	cl.SetCallTimeout(500 * time.Millisecond)
	return cl
}

func randBlob(n int) []byte {
	b := make([]byte, n)
	rnd := rand.New(rand.NewSource(int64(n) + 1))
	rnd.Read(b)
	return b
}

func (s *TestSuite) TestPagedPutGetRoundTrip(c *C) {
	for _, n := range []int{0, 1, PageSize, PageSize + 1, 3*PageSize + 5} {
		ps := newPageStore()
		cl := newPageClient(ps)
		blob := randBlob(n)

		err := cl.PutConfig(blob, nil)
		c.Assert(err, IsNil, Commentf("size %d", n))
		c.Assert(ps.bytes(), DeepEquals, blob, Commentf("size %d", n))

		got, err := cl.GetConfig(nil)
		c.Assert(err, IsNil, Commentf("size %d", n))
		c.Assert(got, DeepEquals, blob, Commentf("size %d", n))
	}
}

func (s *TestSuite) TestPagedPutProgress(c *C) {
	ps := newPageStore()
	cl := newPageClient(ps)
	blob := randBlob(2*PageSize + 10)

	var last, total int
	err := cl.PutConfig(blob, func(d, t int) { last, total = d, t })
	c.Assert(err, IsNil)
	c.Assert(total, Equals, 4) // SOF + 3 pages
	c.Assert(last, Equals, total)
}

func (s *TestSuite) TestPagedPutRetryOKAccepted(c *C) {
	// Every page's first acknowledgment is lost; the retransmission is
	// answered with RetryOK and must count as success, leaving a fully
	// correct stored object.
	ps := newPageStore()
	ps.failFirst = true
	cl := newPageClient(ps)
	blob := randBlob(2*PageSize + 100)

	err := cl.PutConfig(blob, nil)
	c.Assert(err, IsNil)
	c.Assert(ps.bytes(), DeepEquals, blob)

	got, err := cl.GetConfig(nil)
	c.Assert(err, IsNil)
	c.Assert(got, DeepEquals, blob)
}

func (s *TestSuite) TestPagedPutRetryOKOnFirstAttemptRejected(c *C) {
	st := newSimTransport(func(st *simTransport, req *Request, bulk []byte) {
		if len(req.Args) == 12 {
			st.replyStatus(req, StatusOK) // SOF
			return
		}
		st.replyStatus(req, StatusRetryOK)
	})
	cl := NewClient(st)
	cl.SetCallTimeout(500 * time.Millisecond)

	err := cl.PutConfig(randBlob(10), nil)
	c.Assert(err, NotNil)
	serr, ok := errors.Cause(err).(*StatusError)
	c.Assert(ok, Equals, true)
	c.Assert(serr.Status, Equals, StatusRetryOK)
}

func (s *TestSuite) TestPagedPutExhaustsRetries(c *C) {
	attempts := 0
	st := newSimTransport(func(st *simTransport, req *Request, bulk []byte) {
		if len(req.Args) == 12 {
			st.replyStatus(req, StatusOK)
			return
		}
		attempts++
		st.replyStatus(req, StatusFailed)
	})
	cl := NewClient(st)
	cl.SetCallTimeout(500 * time.Millisecond)

	err := cl.PutConfig(randBlob(10), nil)
	c.Assert(err, NotNil)
	c.Assert(attempts, Equals, 4) // first try + 3 retries
}

func (s *TestSuite) TestPagedGetChecksumMismatch(c *C) {
	ps := newPageStore()
	cl := newPageClient(ps)
	blob := randBlob(PageSize + 10)
	c.Assert(cl.PutConfig(blob, nil), IsNil)

	// Corrupt a stored page behind the protocol's back.
	ps.mu.Lock()
	ps.pages[0][0] ^= 0xFF
	ps.mu.Unlock()

	_, err := cl.GetConfig(nil)
	c.Assert(err, NotNil)
}
