package rpc

import (
	"errors"
	"fmt"

	"go.netconf.dev/netconf"
)

// asRPCErrors unwraps err into the netconf.RPCErrors the device actually
// returned, if any. Transport-level failures (framing, timeout, decode
// errors) are not netconf.RPCErrors and so return ok == false.
func asRPCErrors(err error) (netconf.RPCErrors, bool) {
	var rpcErrs netconf.RPCErrors
	if errors.As(err, &rpcErrs) {
		return rpcErrs, true
	}
	return nil, false
}

// LockException is returned by Lock and Unlock when the device rejects the
// operation with one or more rpc-error elements, typically error-tag
// "lock-denied" when another session already holds the lock.
type LockException struct {
	Errors netconf.RPCErrors
}

func (e *LockException) Error() string {
	return fmt.Sprintf("lock operation failed: %s", e.Errors.Error())
}

func (e *LockException) Unwrap() error {
	return e.Errors
}

// CommitException is returned by Commit and CancelCommit when the device
// rejects the operation, typically error-tag "rollback-failed" or
// "operation-failed".
type CommitException struct {
	Errors netconf.RPCErrors
}

func (e *CommitException) Error() string {
	return fmt.Sprintf("commit operation failed: %s", e.Errors.Error())
}

func (e *CommitException) Unwrap() error {
	return e.Errors
}

// LoadException is returned by LoadConfiguration when the device's
// load-configuration-results (or plain rpc-reply) carries one or more
// errors.
type LoadException struct {
	Errors netconf.RPCErrors
}

func (e *LoadException) Error() string {
	return fmt.Sprintf("load-configuration failed: %s", e.Errors.Error())
}

func (e *LoadException) Unwrap() error {
	return e.Errors
}
