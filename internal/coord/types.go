package coord

// Mode selects an entry's life cycle at creation time (§4.7, §6.1).
type Mode int

const (
	// Default entries persist until explicitly deleted.
	Default Mode = iota
	// Ephemeral entries are deleted when their creating session
	// terminates (§4.10.d).
	Ephemeral
)

// String renders the mode for logging.
func (md Mode) String() string {
	switch md {
	case Ephemeral:
		return "ephemeral"
	default:
		return "default"
	}
}
