package servo

import "errors"

// Errors returned by the servo and sweep packages. Callers match them with
// errors.Is; Kind maps them to a short label for logging.
var (
	ErrInvalidAngle     = errors.New("angle out of range [0, 180]")
	ErrInvalidMapping   = errors.New("invalid drive mapping")
	ErrNotInitialized   = errors.New("actuator not attached to a sink")
	ErrDuplicateName    = errors.New("duplicate actuator name")
	ErrDuplicateChannel = errors.New("duplicate actuator channel")
	ErrUnknownActuator  = errors.New("unknown actuator")
	ErrSink             = errors.New("sink error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAngle, "InvalidAngle"},
	{ErrInvalidMapping, "InvalidMapping"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrDuplicateName, "DuplicateName"},
	{ErrDuplicateChannel, "DuplicateChannel"},
	{ErrUnknownActuator, "UnknownActuator"},
	{ErrSink, "SinkError"},
}

// Kind returns the taxonomy label of err, or "Unknown" if err does not wrap
// one of the package errors.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}
