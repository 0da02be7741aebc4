package ice

import "fmt"

// ErrNoRoute is returned by the network-access layer when no Connector
// matches a requested (local, remote) pair.
type ErrNoRoute struct {
	Local  TransportAddress
	Remote TransportAddress
}

func (e *ErrNoRoute) Error() string {
	return fmt.Sprintf("ice: no route from %s to %s", e.Local, e.Remote)
}

// ErrTransactionDoesNotExist is returned when a response is correlated
// against a transaction ID the stack has no record of.
var ErrTransactionDoesNotExist = fmt.Errorf("ice: transaction does not exist")

// ErrTransactionAlreadyAnswered is returned by a second call to
// SendResponse for the same server transaction.
var ErrTransactionAlreadyAnswered = fmt.Errorf("ice: transaction already answered")

// ErrShutdown is returned by stack operations attempted after Shutdown.
var ErrShutdown = fmt.Errorf("ice: stack is shut down")
