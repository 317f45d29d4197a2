package backend

// Kind is the data-level variant of which transport a session uses.
// Kept distinct from the BrowserBackend contract per the Open Question
// resolution recorded in DESIGN.md.
type Kind string

const (
	Cdp       Kind = "cdp"
	Extension Kind = "extension"
	Camoufox  Kind = "camoufox"
)

func (k Kind) Valid() bool {
	switch k {
	case Cdp, Extension, Camoufox:
		return true
	default:
		return false
	}
}
