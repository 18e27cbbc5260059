// Package detector holds the detector backends that do not need OpenCV.
package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultMaxIdle     = 4
)

var (
	ErrEmptyFrame = errors.New("frame has no image data")
	ErrClosed     = errors.New("remote detector closed")
)

// Remote sends frames to an inference server over TCP.
//
// Request: uint32 big-endian length, then the JPEG bytes.
// Response: one JSON line {"predictions":[{"class":8,"confidence":0.81,"box":{...}}]}.
// Each call checks a connection out of an idle pool, so concurrent callers never
// queue behind another caller's reply. Connections are dropped after any error.
type Remote struct {
	addr    string
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	maxIdle int

	mu     sync.Mutex
	idle   []*remoteConn
	closed bool
}

type remoteConn struct {
	net.Conn
	rd *bufio.Reader
}

type remoteReply struct {
	Predictions []remotePrediction `json:"predictions"`
	Error       string             `json:"error,omitempty"`
}

type remotePrediction struct {
	Class      *int      `json:"class"`
	Object     *int      `json:"object"`
	Confidence float64   `json:"confidence"`
	Box        model.Box `json:"box"`
}

func NewRemote(cfg config.DetectorConfig) *Remote {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := &net.Dialer{Timeout: timeout}
	return &Remote{addr: cfg.RemoteAddr, dial: d.DialContext, maxIdle: defaultMaxIdle}
}

func (r *Remote) Detect(ctx context.Context, frame model.Frame, allowed []model.ClassID, minConfidence float64) ([]model.Detection, error) {
	if len(frame.JPEG) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	conn, err := r.get(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := roundTrip(ctx, conn, frame.JPEG)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	r.put(conn)
	if reply.Error != "" {
		return nil, fmt.Errorf("remote detector: %s", reply.Error)
	}

	want := make(map[model.ClassID]struct{}, len(allowed))
	for _, c := range allowed {
		want[c] = struct{}{}
	}
	var out []model.Detection
	for _, p := range reply.Predictions {
		id := p.Class
		if id == nil {
			id = p.Object
		}
		if id == nil {
			continue
		}
		class := model.ClassID(*id)
		if _, ok := want[class]; !ok || p.Confidence < minConfidence {
			continue
		}
		out = append(out, model.Detection{Class: class, Confidence: p.Confidence, Box: p.Box})
	}
	return out, nil
}

// get pops an idle connection or dials a new one. The lock covers only the pool slice.
func (r *Remote) get(ctx context.Context) (*remoteConn, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if n := len(r.idle); n > 0 {
		c := r.idle[n-1]
		r.idle = r.idle[:n-1]
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	conn, err := r.dial(ctx, "tcp", r.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.addr, err)
	}
	return &remoteConn{Conn: conn, rd: bufio.NewReader(conn)}, nil
}

func (r *Remote) put(c *remoteConn) {
	r.mu.Lock()
	if r.closed || len(r.idle) >= r.maxIdle {
		r.mu.Unlock()
		_ = c.Close()
		return
	}
	r.idle = append(r.idle, c)
	r.mu.Unlock()
}

func roundTrip(ctx context.Context, conn *remoteConn, jpeg []byte) (remoteReply, error) {
	var reply remoteReply
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(jpeg)))
	if _, err := conn.Write(header[:]); err != nil {
		return reply, fmt.Errorf("write header: %w", err)
	}
	if _, err := conn.Write(jpeg); err != nil {
		return reply, fmt.Errorf("write frame: %w", err)
	}
	line, err := conn.rd.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reply, ctxErr
		}
		return reply, fmt.Errorf("read reply: %w", err)
	}
	if err := json.Unmarshal(line, &reply); err != nil {
		return reply, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}

// Close drops idle connections. Calls still in flight close theirs when they return.
func (r *Remote) Close() error {
	r.mu.Lock()
	idle := r.idle
	r.idle = nil
	r.closed = true
	r.mu.Unlock()
	for _, c := range idle {
		_ = c.Close()
	}
	return nil
}

// None never detects anything. Used for dry runs of the pipeline.
type None struct{}

func (None) Detect(context.Context, model.Frame, []model.ClassID, float64) ([]model.Detection, error) {
	return nil, nil
}

func (None) Close() error { return nil }
