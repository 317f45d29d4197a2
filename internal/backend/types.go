package backend

// PageEntry identifies one open page/tab. Id is backend-opaque: a CDP
// target id, "tab:<n>" for the extension backend, or a Camoufox tab id.
type PageEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// OpenResult is returned by the open action.
type OpenResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// AccessibilityNode is the canonical snapshot node shape produced by the
// in-page snapshot script (CDP, Extension) and by the Camoufox server,
// and consumed by the selector matcher regardless of origin.
type AccessibilityNode struct {
	Role        string              `json:"role"`
	Name        string              `json:"name,omitempty"`
	ElementRef  string              `json:"elementRef,omitempty"`
	Value       string              `json:"value,omitempty"`
	Checked     *bool               `json:"checked,omitempty"`
	Level       *uint8              `json:"level,omitempty"`
	URL         string              `json:"url,omitempty"`
	Focusable   *bool               `json:"focusable,omitempty"`
	Content     string              `json:"content,omitempty"`
	Children    []AccessibilityNode `json:"children,omitempty"`
}

// Snapshot wraps the tree with the ref counter used to validate
// invariant 2 in spec.md §8 (refCount equals the number of ref'd nodes).
type Snapshot struct {
	Tree     AccessibilityNode `json:"tree"`
	RefCount int               `json:"refCount"`
}

// InspectResult is the result of inspect(x, y).
type InspectResult struct {
	Found     bool              `json:"found"`
	Node      AccessibilityNode `json:"node,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	ParentIDs []string          `json:"parentIds,omitempty"`
}

// Viewport describes the page's layout metrics.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Cookie mirrors the subset of CDP/Camoufox cookie fields the uniform
// action set exposes.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}
