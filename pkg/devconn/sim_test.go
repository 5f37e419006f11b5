package devconn

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/pinforge/cabctl/pkg/transport"
)

var errFailedSim = errors.New("simulated transport failure")

// simTransport is an in-memory controller endpoint. Send parses request
// frames (and trailing bulk payloads) and hands them to the handler;
// the handler queues reply bytes in chunks, so tests control exactly
// how the byte stream is sliced on the receive side.
type simTransport struct {
	mu      sync.Mutex
	handler func(st *simTransport, req *Request, bulk []byte)

	recvCh  chan []byte
	pending []byte

	// request awaiting its bulk payload
	bulkReq *Request
	bulk    []byte

	sendErr error
	closed  bool
}

func newSimTransport(handler func(st *simTransport, req *Request, bulk []byte)) *simTransport {
	return &simTransport{
		handler: handler,
		recvCh:  make(chan []byte, 256),
	}
}

func (st *simTransport) Send(p []byte) error {
	st.mu.Lock()
	if st.sendErr != nil {
		err := st.sendErr
		st.mu.Unlock()
		return err
	}
	if st.bulkReq != nil {
		st.bulk = append(st.bulk, p...)
		if len(st.bulk) >= int(st.bulkReq.BulkLen) {
			req, bulk := st.bulkReq, st.bulk
			st.bulkReq, st.bulk = nil, nil
			st.mu.Unlock()
			st.handler(st, req, bulk)
			return nil
		}
		st.mu.Unlock()
		return nil
	}
	req, err := DecodeRequest(p)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if req.BulkLen > 0 {
		st.bulkReq = req
		st.mu.Unlock()
		return nil
	}
	st.mu.Unlock()
	st.handler(st, req, nil)
	return nil
}

func (st *simTransport) Receive(p []byte, timeout time.Duration) (int, error) {
	if len(st.pending) == 0 {
		select {
		case b := <-st.recvCh:
			st.pending = b
		case <-time.After(timeout):
			return 0, transport.ErrRecvTimeout
		}
	}
	n := copy(p, st.pending)
	st.pending = st.pending[n:]
	return n, nil
}

func (st *simTransport) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.closed = true
	return nil
}

// emit queues one receive chunk.
func (st *simTransport) emit(chunk []byte) {
	st.recvCh <- append([]byte(nil), chunk...)
}

// reply frames and queues a response, slicing any bulk payload into
// uneven chunks to exercise partial receives.
func (st *simTransport) reply(resp *Response, bulk []byte) {
	resp.BulkLen = uint16(len(bulk))
	buf := make([]byte, ResponseFrameSize)
	if err := resp.Encode(buf); err != nil {
		panic(err)
	}
	st.emit(buf)
	for len(bulk) > 0 {
		n := 24
		if n > len(bulk) {
			n = len(bulk)
		}
		st.emit(bulk[:n])
		bulk = bulk[n:]
	}
}

func (st *simTransport) replyStatus(req *Request, status uint16) {
	st.reply(&Response{Token: req.Token, Command: req.Command, Status: status}, nil)
}

// pageStore is a paged-object receiver backing the PUT/GET tests: SOF
// marker establishes page count, byte length and checksum; data pages
// land in order; GET serves them back.
type pageStore struct {
	mu        sync.Mutex
	pageCount int
	size      int
	sum       uint32
	pages     map[int][]byte

	// per-page attempt counters and failure script for retry tests
	attempts  map[int]int
	failFirst bool
}

func newPageStore() *pageStore {
	return &pageStore{pages: map[int][]byte{}, attempts: map[int]int{}}
}

func (ps *pageStore) bytes() []byte {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make([]byte, 0, ps.size)
	for i := 0; i < ps.pageCount; i++ {
		out = append(out, ps.pages[i]...)
	}
	return out
}

func (ps *pageStore) handlePut(st *simTransport, req *Request, bulk []byte) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if len(req.Args) == 12 && binary.LittleEndian.Uint16(req.Args) == 0xFFFF {
		ps.pageCount = int(binary.LittleEndian.Uint16(req.Args[2:]))
		ps.sum = binary.LittleEndian.Uint32(req.Args[4:])
		ps.size = int(binary.LittleEndian.Uint32(req.Args[8:]))
		ps.pages = map[int][]byte{}
		st.replyStatus(req, StatusOK)
		return
	}

	page := int(binary.LittleEndian.Uint16(req.Args))
	ps.attempts[page]++
	ps.pages[page] = append([]byte(nil), bulk...)
	if ps.failFirst && ps.attempts[page] == 1 {
		// The page was processed but the acknowledgment is "lost": the
		// retransmission gets RetryOK.
		st.replyStatus(req, StatusFailed)
		return
	}
	if ps.failFirst && ps.attempts[page] == 2 {
		st.replyStatus(req, StatusRetryOK)
		return
	}
	st.replyStatus(req, StatusOK)
}

func (ps *pageStore) handleGet(st *simTransport, req *Request) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	idx := int(binary.LittleEndian.Uint16(req.Args))
	if idx == 0xFFFF {
		args := make([]byte, 10)
		binary.LittleEndian.PutUint16(args[0:], uint16(ps.pageCount))
		binary.LittleEndian.PutUint32(args[2:], ps.sum)
		binary.LittleEndian.PutUint32(args[6:], uint32(ps.size))
		st.reply(&Response{Token: req.Token, Command: req.Command, Status: StatusOK, Args: args}, nil)
		return
	}
	page, ok := ps.pages[idx]
	if !ok {
		st.replyStatus(req, StatusPageNotFound)
		return
	}
	st.reply(&Response{Token: req.Token, Command: req.Command, Status: StatusOK}, page)
}
