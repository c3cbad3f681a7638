package container

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/udovin/sbox/pkg/unixsocket"
)

// 64k buffsize, larger messages are rejected as truncated
const bufferSize = 64 << 10

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, bufferSize)
	},
}

type socket unixsocket.Socket

func newSocket(s *unixsocket.Socket) *socket {
	return (*socket)(s)
}

func (s *socket) RecvMsg(e any) (*unixsocket.Msg, error) {
	soc := (*unixsocket.Socket)(s)

	buff := bufferPool.Get().([]byte)
	defer bufferPool.Put(buff)

	n, msg, err := soc.RecvMsg(buff)
	if err != nil {
		return nil, fmt.Errorf("RecvMsg: %w", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(buff[:n])).Decode(e); err != nil {
		return nil, fmt.Errorf("RecvMsg: failed to decode %w", err)
	}
	return msg, nil
}

func (s *socket) SendMsg(e any, msg *unixsocket.Msg) error {
	soc := (*unixsocket.Socket)(s)

	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)

	// use buf pool to reduce allocation
	buff := bytes.NewBuffer(buf[:0])
	if err := gob.NewEncoder(buff).Encode(e); err != nil {
		return fmt.Errorf("SendMsg: failed to encode %w", err)
	}

	if err := soc.SendMsg(buff.Bytes(), msg); err != nil {
		return fmt.Errorf("SendMsg: failed to SendMsg %w", err)
	}
	return nil
}

func (s *socket) Close() error {
	return (*unixsocket.Socket)(s).Close()
}
