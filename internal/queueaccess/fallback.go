package queueaccess

import (
	"errors"
	"fmt"

	"iencode/internal/ipc"
	"iencode/internal/queue"
)

// Session is an open queue handle. Close it when done.
type Session struct {
	Access Access
	// DaemonErr is the dial error that forced a store-backed session; nil
	// when the daemon answered.
	DaemonErr error
	close     func() error
}

// Close releases the IPC connection or store behind the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback dials the daemon and, when it does not answer, opens the
// persisted store read-only. A store failure is reported together with the
// dial failure so the caller sees both causes.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	openStore func() (queue.Store, error),
) (Session, error) {
	daemonErr := errors.New("no daemon dialer configured")
	if dial != nil {
		client, err := dial()
		if err == nil {
			return Session{Access: NewIPCAccess(client), close: client.Close}, nil
		}
		daemonErr = err
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open queue store: no store opener configured (daemon: %v)", daemonErr)
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue store: %w (daemon: %v)", err, daemonErr)
	}
	return Session{Access: NewStoreAccess(store), DaemonErr: daemonErr, close: store.Close}, nil
}
