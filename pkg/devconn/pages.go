package devconn

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	// PageSize is the fixed page granularity of bulk object transfers.
	PageSize = 4096

	// sofPage is the reserved page index carrying total page count and
	// the end-to-end checksum ahead of the data pages.
	sofPage = uint16(0xFFFF)

	// Additional attempts per page after the first.
	pagePutRetries = 3
)

// putProgress reports completed pages during PutObject; total includes
// the start-of-file marker.
type putProgress func(done, total int)

// PutObject stores data on the controller via the paged PUT protocol:
// a start-of-file marker carrying page count and CRC-32, then pages in
// strict order. A partially sent object can leave the receiver's storage
// unreadable until an explicit erase, so the transfer is never abandoned
// between pages: any page failure aborts the whole call as an error the
// caller must handle with EraseConfig or a retry from the top.
func (c *Client) PutObject(command byte, data []byte, progress putProgress) error {
	pages := (len(data) + PageSize - 1) / PageSize
	if pages >= int(sofPage) {
		return ErrBadTransferLength
	}
	sum := crc32.ChecksumIEEE(data)

	if progress == nil {
		progress = func(int, int) {}
	}
	total := pages + 1

	// Start-of-file marker: page index 0xFFFF, page count, CRC-32,
	// total byte length.
	args := make([]byte, 12)
	binary.LittleEndian.PutUint16(args[0:], sofPage)
	binary.LittleEndian.PutUint16(args[2:], uint16(pages))
	binary.LittleEndian.PutUint32(args[4:], sum)
	binary.LittleEndian.PutUint32(args[8:], uint32(len(data)))
	if err := c.putPage(command, args, nil); err != nil {
		return errors.Wrap(err, "paged PUT start-of-file rejected")
	}
	progress(1, total)

	for i := 0; i < pages; i++ {
		lo := i * PageSize
		hi := lo + PageSize
		if hi > len(data) {
			hi = len(data)
		}
		args := make([]byte, 2)
		binary.LittleEndian.PutUint16(args, uint16(i))
		if err := c.putPage(command, args, data[lo:hi]); err != nil {
			return errors.Wrapf(err, "paged PUT failed at page %d of %d", i, pages)
		}
		progress(i+2, total)
	}
	return nil
}

// putPage sends one page, retrying on a non-OK status. A RetryOK status
// on a retried attempt means the receiver processed an earlier attempt
// whose acknowledgment was lost, and is accepted as success; a RetryOK
// on a first attempt means the receiver's page state is out of step with
// ours and is surfaced as an error. Protocol errors from Call abort
// immediately without retry.
func (c *Client) putPage(command byte, args []byte, page []byte) error {
	var lastErr error
	for try := 0; try <= pagePutRetries; try++ {
		resp, err := c.Call(command, args, page, nil)
		if err != nil {
			return err
		}
		switch resp.Status {
		case StatusOK:
			return nil
		case StatusRetryOK:
			if try > 0 {
				return nil
			}
			return statusErr(command, resp.Status)
		default:
			lastErr = statusErr(command, resp.Status)
			c.log.WithError(lastErr).WithField("attempt", try+1).Warn("page write rejected")
		}
	}
	return lastErr
}

// GetObject retrieves a stored object via the paged GET protocol. The
// start-of-file query reports size and checksum; pages are then fetched
// in order until the device reports page-not-found, which terminates the
// sequence. The reassembled object is verified against the end-to-end
// checksum.
func (c *Client) GetObject(command byte, progress putProgress) ([]byte, error) {
	args := make([]byte, 2)
	binary.LittleEndian.PutUint16(args, sofPage)
	resp, err := c.Call(command, args, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := statusErr(command, resp.Status); err != nil {
		return nil, err
	}
	if len(resp.Args) < 10 {
		return nil, ErrReplyMismatch
	}
	pages := int(binary.LittleEndian.Uint16(resp.Args[0:]))
	sum := binary.LittleEndian.Uint32(resp.Args[2:])
	size := int(binary.LittleEndian.Uint32(resp.Args[6:]))

	if progress == nil {
		progress = func(int, int) {}
	}

	out := make([]byte, 0, size)
	page := make([]byte, PageSize)
	for i := 0; ; i++ {
		if i > pages {
			return nil, errors.Errorf("paged GET ran past declared page count %d", pages)
		}
		binary.LittleEndian.PutUint16(args, uint16(i))
		resp, err := c.Call(command, args, nil, page)
		if err != nil {
			return nil, err
		}
		if resp.Status == StatusPageNotFound {
			break
		}
		if err := statusErr(command, resp.Status); err != nil {
			return nil, err
		}
		out = append(out, page[:resp.BulkLen]...)
		progress(i+1, pages)
	}

	if len(out) != size {
		return nil, errors.Errorf("paged GET returned %d bytes, expected %d", len(out), size)
	}
	if crc32.ChecksumIEEE(out) != sum {
		return nil, errors.New("paged GET checksum mismatch on reassembled object")
	}
	return out, nil
}

// PutConfig uploads a configuration blob.
func (c *Client) PutConfig(data []byte, progress putProgress) error {
	return c.PutObject(CmdPutConfigPage, data, progress)
}

// GetConfig downloads the stored configuration blob.
func (c *Client) GetConfig(progress putProgress) ([]byte, error) {
	return c.GetObject(CmdGetConfigPage, progress)
}
