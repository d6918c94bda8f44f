package errs

import "fmt"

var (
	ErrGrpcNoHost    = fmt.Errorf("host endpoint isn't set")
	ErrNotRunned     = fmt.Errorf("server isn't runned")
	ErrAlreadyRunned = fmt.Errorf("already runned")

	ErrNoLogger = fmt.Errorf("logger isn't present")

	ErrEmptyServiceName = fmt.Errorf("service name is empty")
	ErrNoProvider       = fmt.Errorf("service provider isn't set")
	ErrServiceExists    = fmt.Errorf("service already registered")
	ErrNoInterface      = fmt.Errorf("service interface isn't set")

	ErrExchangeCompleted = fmt.Errorf("exchange already completed")
	ErrContractSealed    = fmt.Errorf("contract is sealed")
	ErrEmptyMessage      = fmt.Errorf("message is empty")

	// invocation bridge
	ErrServiceNotRegistered = fmt.Errorf("service not registered")
	ErrOperationNotFound    = fmt.Errorf("operation not found")
	ErrUnsupportedArity     = fmt.Errorf("unsupported arity")
	ErrTypeMismatch         = fmt.Errorf("type mismatch")
	ErrInvocationFailure    = fmt.Errorf("invocation failure")
)
