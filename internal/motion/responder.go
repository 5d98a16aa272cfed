package motion

// Responder is the capability a MAIN-resident plugin opts into to be
// told about every motion trigger transition. Declared here, not in
// internal/plugin, for the same reason as media.Receiver: callers type-
// assert against a concrete interface rather than one typed in terms of
// any.
type Responder interface {
	MotionStatusChanged(triggered bool) error
}
