package clients

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the cluster has no record of a transaction.
var ErrNotFound = errors.New("transaction not found")

// SimulationError carries the network's rejection of a simulated transaction.
type SimulationError struct {
	Err  string
	Logs []string
}

func (e *SimulationError) Error() string {
	if len(e.Logs) == 0 {
		return fmt.Sprintf("simulation failed: %s", e.Err)
	}
	return fmt.Sprintf("simulation failed: %s; logs: %s", e.Err, strings.Join(e.Logs, " | "))
}

// TransactionError is an execution failure reported for a landed transaction.
type TransactionError struct {
	Signature string
	Err       string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed on-chain: %s", e.Signature, e.Err)
}
