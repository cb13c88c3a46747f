package dispatch

import "slices"

// Attempt records one failed call to a candidate model.
type Attempt struct {
	Model     string `json:"model"`
	Index     int    `json:"attempt"`
	Retryable bool   `json:"retryable"`
	Status    int    `json:"status,omitempty"` // 0 when the error carried no HTTP status
	Message   string `json:"message"`
}

// ExhaustedError is returned when no candidate produced a stream.
type ExhaustedError struct {
	Attempts []Attempt
	// Err is set when the loop was cut short, e.g. by context cancellation.
	Err error
}

// Error returns the cause when set, otherwise the message of the last
// attempt, or "router_failed" when nothing was attempted.
func (e *ExhaustedError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	if len(e.Attempts) == 0 {
		return "router_failed"
	}
	return e.Attempts[len(e.Attempts)-1].Message
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Last returns the final attempt.
func (e *ExhaustedError) Last() (Attempt, bool) {
	if len(e.Attempts) == 0 {
		return Attempt{}, false
	}
	return e.Attempts[len(e.Attempts)-1], true
}

// AttemptsFor returns the attempts made against model.
func (e *ExhaustedError) AttemptsFor(model string) []Attempt {
	var out []Attempt
	for _, a := range e.Attempts {
		if a.Model == model {
			out = append(out, a)
		}
	}
	return slices.Clip(out)
}
