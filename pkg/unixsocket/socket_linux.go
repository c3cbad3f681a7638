// Package unixsocket wraps a SOCK_SEQPACKET unix socket pair used as the
// control channel between a launcher and its container init. Every write
// is delivered as one datagram and may carry file descriptors; the
// receiver can ask the kernel to attach the sender's credentials.
package unixsocket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// oob size default to page size
const oobSize = 4 << 10

// use pool to avoid allocate
var oobPool = sync.Pool{
	New: func() any {
		return make([]byte, oobSize)
	},
}

// ErrTruncated is returned when a datagram did not fit into the buffer
var ErrTruncated = errors.New("unixsocket: message truncated")

// Socket wrappers a unix socket connection
type Socket struct {
	*net.UnixConn
}

// Msg is the oob part of a message
type Msg struct {
	Fds  []int       // unix rights
	Cred *unix.Ucred // unix credential, translated into the receiver's namespaces
}

// NewSocket creates Socket from an existing SOCK_SEQPACKET fd, e.g. one
// inherited through exec.Cmd.ExtraFiles, and marks it close-on-exec so a
// successful exec closes the channel
func NewSocket(fd int) (*Socket, error) {
	if fd < 0 {
		return nil, fmt.Errorf("NewSocket: fd(%d) is not a valid fd", fd)
	}
	unix.CloseOnExec(fd)
	file := os.NewFile(uintptr(fd), "unix-socket")
	if file == nil {
		return nil, fmt.Errorf("NewSocket: fd(%d) is not a valid fd", fd)
	}
	defer file.Close()
	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("NewSocket: fd(%d): %w", fd, err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("NewSocket: fd(%d) is not a unix socket", fd)
	}
	return &Socket{unixConn}, nil
}

// NewSocketPair creates connected unix socketpair using SOCK_SEQPACKET
func NewSocketPair() (*Socket, *Socket, error) {
	fd, err := unix.Socketpair(unix.AF_LOCAL, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("NewSocketPair: socketpair: %w", err)
	}
	ins, err := NewSocket(fd[0])
	if err != nil {
		unix.Close(fd[0])
		unix.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: ins: %w", err)
	}
	outs, err := NewSocket(fd[1])
	if err != nil {
		ins.Close()
		unix.Close(fd[1])
		return nil, nil, fmt.Errorf("NewSocketPair: outs: %w", err)
	}
	return ins, outs, nil
}

// File returns a dup of the socket suitable for exec.Cmd.ExtraFiles
func (s *Socket) File() (*os.File, error) {
	return s.UnixConn.File()
}

// SetPassCred makes the kernel attach sender credentials to received messages
func (s *Socket) SetPassCred(enable bool) error {
	sysconn, err := s.SyscallConn()
	if err != nil {
		return err
	}
	option := 0
	if enable {
		option = 1
	}
	var serr error
	if err := sysconn.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, option)
	}); err != nil {
		return err
	}
	return serr
}

// SendMsg sends one datagram with optional unix rights / credential
func (s *Socket) SendMsg(b []byte, m *Msg) error {
	var oob []byte
	if m != nil {
		if len(m.Fds) > 0 {
			oob = append(oob, unix.UnixRights(m.Fds...)...)
		}
		if m.Cred != nil {
			oob = append(oob, unix.UnixCredentials(m.Cred)...)
		}
	}
	_, _, err := s.WriteMsgUnix(b, oob, nil)
	return err
}

// RecvMsg receives one datagram and parses unix rights / credential. A
// closed peer yields io.EOF.
func (s *Socket) RecvMsg(b []byte) (int, *Msg, error) {
	oob := oobPool.Get().([]byte)
	defer oobPool.Put(oob)
	n, oobn, flags, _, err := s.ReadMsgUnix(b, oob)
	if err != nil {
		return 0, nil, err
	}
	// seqpacket reports an orderly shutdown as an empty read
	if n == 0 && oobn == 0 {
		return 0, nil, io.EOF
	}
	msg, err := parseMsg(oob[:oobn])
	if err != nil {
		return 0, nil, err
	}
	if flags&unix.MSG_TRUNC != 0 {
		closeFds(msg.Fds)
		return 0, nil, ErrTruncated
	}
	return n, msg, nil
}

func parseMsg(oob []byte) (msg *Msg, err error) {
	msg = &Msg{}
	// fds received before a parse failure must not leak
	defer func() {
		if err != nil {
			closeFds(msg.Fds)
			msg = nil
		}
	}()
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return msg, err
	}
	for i := range msgs {
		m := &msgs[i]
		if m.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch m.Header.Type {
		case unix.SCM_CREDENTIALS:
			cred, err := unix.ParseUnixCredentials(m)
			if err != nil {
				return msg, err
			}
			msg.Cred = cred

		case unix.SCM_RIGHTS:
			fds, err := unix.ParseUnixRights(m)
			if err != nil {
				return msg, err
			}
			msg.Fds = append(msg.Fds, fds...)
		}
	}
	return msg, nil
}

func closeFds(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}
