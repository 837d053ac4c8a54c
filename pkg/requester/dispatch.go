package requester

// Outcome is the classified result of a response.
type Outcome int

const (
	// OutcomeFailure covers NOT_FOUND, FAILED, unknown and missing statuses
	OutcomeFailure Outcome = iota
	// OutcomeSuccess is a SUCCESSFUL envelope
	OutcomeSuccess
	// OutcomeConnectionError is a GENERIC_RESPONSE envelope
	OutcomeConnectionError
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeConnectionError:
		return "connection_error"
	default:
		return "failure"
	}
}

// Callbacks are the continuations invoked by Dispatch. Nil callbacks are
// skipped.
type Callbacks struct {
	OnSuccess         func(env *Envelope)
	OnFailure         func(env *Envelope)
	OnConnectionError func(env *Envelope)
}

// Classify maps an envelope to its outcome.
func Classify(env *Envelope) Outcome {
	if env == nil {
		return OutcomeFailure
	}
	switch env.Status {
	case StatusSuccessful:
		return OutcomeSuccess
	case StatusGenericResponse:
		return OutcomeConnectionError
	default:
		return OutcomeFailure
	}
}

// Dispatch invokes exactly one callback for env and returns the outcome
// that was delivered. A GENERIC_RESPONSE falls back to OnFailure when no
// OnConnectionError callback is supplied.
func Dispatch(env *Envelope, cb Callbacks) Outcome {
	outcome := Classify(env)
	if outcome == OutcomeConnectionError && cb.OnConnectionError == nil {
		outcome = OutcomeFailure
	}

	var fn func(*Envelope)
	switch outcome {
	case OutcomeSuccess:
		fn = cb.OnSuccess
	case OutcomeConnectionError:
		fn = cb.OnConnectionError
	default:
		fn = cb.OnFailure
	}
	if fn != nil {
		fn(env)
	}
	return outcome
}
