// Package instance keeps more than one server from driving the same sensor.
//
// The first process binds a unix domain socket at a well known path.  A later
// process finds the socket in use and either gives up or, when forced, takes
// the path over.
package instance

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrAlreadyRunning is returned by Acquire when another live process holds the socket
var ErrAlreadyRunning = errors.New("instance: another instance is already running")

// DialTimeout bounds the probe of an existing socket
var DialTimeout = time.Second

// Guard is a held instance lock
type Guard struct {
	ln   net.Listener
	path string
}

// Acquire binds the unix socket at path.  If another process is listening
// there, Acquire returns ErrAlreadyRunning unless force is true, in which case
// the socket file is removed and bound again.  A leftover socket file with no
// listener behind it is removed without complaint.
func Acquire(path string, force bool) (*Guard, error) {
	ln, err := net.Listen("unix", path)
	if err == nil {
		return newGuard(ln, path), nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, err
	}

	conn, derr := net.DialTimeout("unix", path, DialTimeout)
	if derr == nil {
		conn.Close()
		if !force {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
		}
		log.Printf("another instance holds %s, taking over\n", path)
	} else {
		log.Printf("removing stale socket %s\n", path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	ln, err = net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return newGuard(ln, path), nil
}

func newGuard(ln net.Listener, path string) *Guard {
	// connections are only probes; drop them so the backlog never fills
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return &Guard{ln: ln, path: path}
}

// Path is the socket path
func (g *Guard) Path() string {
	return g.path
}

// Release closes the socket and removes its file
func (g *Guard) Release() error {
	err := g.ln.Close()
	if rerr := os.Remove(g.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}
