package zk

import "sync"

// Verifier checks a zero-knowledge proof attachment against its declared
// statement. Proof systems live outside this subsystem; deployments adapt
// one in through this interface, and the acceptance policy only learns
// valid or invalid.
type Verifier interface {
	Verify(statement string, proof []byte) bool
}

// InmemVerifier is an in-memory Verifier for tests and single-process
// setups: it accepts the statements it has been told to accept.
type InmemVerifier struct {
	l        sync.Mutex
	allowed  map[string]bool
	allowAll bool
}

// NewInmemVerifier instantiates an InmemVerifier. With allowAll set it
// accepts every statement.
func NewInmemVerifier(allowAll bool) *InmemVerifier {
	return &InmemVerifier{
		allowed:  map[string]bool{},
		allowAll: allowAll,
	}
}

// Allow marks a statement as verifiable.
func (v *InmemVerifier) Allow(statement string) {
	v.l.Lock()
	defer v.l.Unlock()

	v.allowed[statement] = true
}

// Verify implements the Verifier interface.
func (v *InmemVerifier) Verify(statement string, proof []byte) bool {
	v.l.Lock()
	defer v.l.Unlock()

	if v.allowAll {
		return true
	}

	return v.allowed[statement]
}
