package calls

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("%w: ...") and
// test with errors.Is.
var (
	// ErrValidation is bad or missing user input, caught before any remote call.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration is a missing deployment secret. Not retryable without operator action.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider is a transport or API failure from the voice or text provider.
	ErrProvider = errors.New("provider error")
	// ErrGeneration is a summarization failure. Non-fatal; prior summary is kept.
	ErrGeneration = errors.New("generation error")
	// ErrNotFound is returned when no call matches the given id.
	ErrNotFound = errors.New("call not found")
)
