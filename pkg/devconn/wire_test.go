package devconn

import (
	. "gopkg.in/check.v1"
)

func (s *TestSuite) TestRequestRoundTrip(c *C) {
	req := NewRequest(0xCAFEBABE, 0x42, []byte{1, 2, 3, 4}, 512)
	buf := make([]byte, RequestFrameSize)
	c.Assert(req.Encode(buf), IsNil)

	got, err := DecodeRequest(buf)
	c.Assert(err, IsNil)
	c.Assert(got.Token, Equals, req.Token)
	c.Assert(got.Command, Equals, req.Command)
	c.Assert(got.BulkLen, Equals, req.BulkLen)
	c.Assert(got.Args, DeepEquals, req.Args)
}

func (s *TestSuite) TestEncoderSelfCheck(c *C) {
	buf := make([]byte, RequestFrameSize)

	// Mutating any checksummed header field after Seal must fail the
	// encoder's self-check before anything reaches the transport.
	req := NewRequest(100, 0x10, nil, 0)
	req.Token = 101
	c.Assert(req.Encode(buf), NotNil)

	req = NewRequest(100, 0x10, nil, 0)
	req.Command = 0x11
	c.Assert(req.Encode(buf), NotNil)

	req = NewRequest(100, 0x10, nil, 0)
	req.BulkLen = 1
	c.Assert(req.Encode(buf), NotNil)

	// Resealing fixes it.
	req.Seal()
	c.Assert(req.Encode(buf), IsNil)
}

func (s *TestSuite) TestDecodeRejectsTamperedChecksum(c *C) {
	req := NewRequest(7, 0x10, nil, 16)
	buf := make([]byte, RequestFrameSize)
	c.Assert(req.Encode(buf), IsNil)

	for _, i := range []int{0, 4, 6} {
		tampered := append([]byte(nil), buf...)
		tampered[i] ^= 0x01
		_, err := DecodeRequest(tampered)
		c.Assert(err, NotNil, Commentf("byte %d", i))
	}
}

func (s *TestSuite) TestDecodeRejectsUndersizedFrames(c *C) {
	_, err := DecodeRequest(make([]byte, RequestFrameSize-1))
	c.Assert(err, NotNil)
	_, err = DecodeResponse(make([]byte, ResponseFrameSize-1))
	c.Assert(err, NotNil)
	_, err = DecodeResponse(nil)
	c.Assert(err, NotNil)
}

func (s *TestSuite) TestResponseRoundTrip(c *C) {
	resp := &Response{Token: 9, Command: 0x21, Status: StatusPageNotFound, BulkLen: 77, Args: []byte{5, 6}}
	buf := make([]byte, ResponseFrameSize)
	c.Assert(resp.Encode(buf), IsNil)

	got, err := DecodeResponse(buf)
	c.Assert(err, IsNil)
	c.Assert(got.Token, Equals, resp.Token)
	c.Assert(got.Command, Equals, resp.Command)
	c.Assert(got.Status, Equals, resp.Status)
	c.Assert(got.BulkLen, Equals, resp.BulkLen)
	c.Assert(got.Args, DeepEquals, resp.Args)
}

func (s *TestSuite) TestArgCapacity(c *C) {
	req := NewRequest(1, 0x10, make([]byte, MaxRequestArgs+1), 0)
	buf := make([]byte, RequestFrameSize)
	c.Assert(req.Encode(buf), NotNil)
}
