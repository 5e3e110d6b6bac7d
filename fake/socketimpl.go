package fake

import (
	"bytes"
	"sync"
	"syscall"

	"github.com/momentics/vsockbridge/api"
)

// Conn is a scripted socket endpoint used to drive socket.Socket in tests
// without a real descriptor. Reads are served from an input queue of
// byte chunks (each Read call consumes at most one chunk, mirroring one
// syscall's worth of data); writes accumulate into Written, at most
// WriteQuota bytes per call, mirroring a slow sink. WriteQuota alone
// never yields EAGAIN; FailWrites(syscall.EAGAIN) does.
type Conn struct {
	mu sync.Mutex

	fd int

	chunks  [][]byte
	eof     bool
	readErr error // returned once, after chunks are exhausted, instead of EOF

	// WriteQuota caps bytes accepted per Write call; 0 means unlimited.
	WriteQuota int
	writeErr   error // sticky error returned by every subsequent Write

	// ReadCalls counts invocations of read that actually reached the
	// scripted body, letting tests assert a read was (or was not)
	// attempted at all -- distinct from how many bytes it returned.
	ReadCalls int

	Written bytes.Buffer
	Closed  bool

	connectErr error // returned by the zero-length probe write, once
	connectDone bool
}

// NewConn constructs a scripted connection for fd.
func NewConn(fd int) *Conn {
	return &Conn{fd: fd}
}

// Feed queues a chunk of bytes to be returned by a future Read call.
func (c *Conn) Feed(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.chunks = append(c.chunks, cp)
}

// FeedEOF arranges for the next Read, once chunks are drained, to return
// (0, nil) — an orderly EOF.
func (c *Conn) FeedEOF() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eof = true
}

// FeedReadError arranges for the next Read, once chunks are drained, to
// return the given error (e.g. syscall.ECONNRESET).
func (c *Conn) FeedReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// FailWrites arranges for every future Write to fail with err.
func (c *Conn) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// FailConnect arranges for the next zero-length probe write (the async
// connect-completion check) to report err instead of success.
func (c *Conn) FailConnect(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectErr = err
}

func (c *Conn) read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReadCalls++

	if len(c.chunks) > 0 {
		chunk := c.chunks[0]
		n := copy(buf, chunk)
		if n < len(chunk) {
			c.chunks[0] = chunk[n:]
		} else {
			c.chunks = c.chunks[1:]
		}
		return n, nil
	}
	if c.readErr != nil {
		err := c.readErr
		c.readErr = nil
		return -1, err
	}
	if c.eof {
		return 0, nil
	}
	return -1, syscall.EAGAIN
}

func (c *Conn) write(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(buf) == 0 {
		// Zero-length probe write: the async-connect completion check.
		if !c.connectDone {
			c.connectDone = true
			if c.connectErr != nil {
				return -1, c.connectErr
			}
		}
		return 0, nil
	}

	if c.writeErr != nil {
		return -1, c.writeErr
	}

	n := len(buf)
	if c.WriteQuota > 0 && n > c.WriteQuota {
		n = c.WriteQuota
	}
	c.Written.Write(buf[:n])
	if n < len(buf) {
		// Partial accept; the caller retries the remainder, which the
		// state machine's drain loop does at once, since this counts as
		// forward progress and no EAGAIN follows.
		return n, nil
	}
	return n, nil
}

func (c *Conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// Impl returns an api.SocketImpl bound to this connection's fd.
func (c *Conn) Impl() api.SocketImpl {
	return api.SocketImpl{
		Read: func(fd int, buf []byte) (int, error) {
			return c.read(buf)
		},
		Write: func(fd int, buf []byte) (int, error) {
			return c.write(buf)
		},
		Close: func(fd int) error {
			return c.close()
		},
	}
}
