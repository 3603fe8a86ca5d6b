package tcpstack

import (
	"github.com/pkg/errors"
)

// VListen starts accepting connections on localPort
func VListen(tcpStack *TCPStack, localPort uint16) (*ListenSocket, error) {
	tcpStack.mutex.Lock()
	defer tcpStack.mutex.Unlock()

	if _, taken := tcpStack.listeners[localPort]; taken {
		return nil, errors.Wrapf(ErrPortInUse, "port %d", localPort)
	}

	ls := &ListenSocket{
		SID:         tcpStack.generateSID(),
		localPort:   localPort,
		tcpStack:    tcpStack,
		acceptQueue: make(chan *NormalSocket, ACCEPT_BACKLOG),
		done:        make(chan struct{}),
	}
	tcpStack.listeners[localPort] = ls
	return ls, nil
}

func (ls *ListenSocket) GetSID() int {
	return ls.SID
}

func (ls *ListenSocket) LocalPort() uint16 {
	return ls.localPort
}

// VAccept blocks until a new connection comes in or the listener is closed
func (ls *ListenSocket) VAccept() (*NormalSocket, error) {
	select {
	case socket := <-ls.acceptQueue:
		return socket, nil
	case <-ls.done:
		return nil, ErrConnectionClosed
	}
}

// enqueue hands a new connection to VAccept, false if the backlog is full or we're closed
func (ls *ListenSocket) enqueue(socket *NormalSocket) bool {
	select {
	case <-ls.done:
		return false
	default:
	}

	select {
	case ls.acceptQueue <- socket:
		return true
	default:
		return false
	}
}

// VClose stops listening. Connections that were never accepted get aborted.
func (ls *ListenSocket) VClose() error {
	err := ErrConnectionClosed
	ls.closeOnce.Do(func() {
		err = nil

		ls.tcpStack.mutex.Lock()
		if ls.tcpStack.listeners[ls.localPort] == ls {
			delete(ls.tcpStack.listeners, ls.localPort)
		}
		ls.tcpStack.mutex.Unlock()

		close(ls.done)
		for {
			select {
			case socket := <-ls.acceptQueue:
				socket.VAbort()
			default:
				return
			}
		}
	})
	return err
}
