package types

// AccessMode governs which cursor operations are legal and how a commit
// behaves.
type AccessMode int

// Access modes.
const (
	ModeBrowse AccessMode = iota
	ModeInsert
	ModeEdit
	ModeDel
)

var modeNames = map[AccessMode]string{
	ModeBrowse: "browse",
	ModeInsert: "insert",
	ModeEdit:   "edit",
	ModeDel:    "del",
}

// String returns the lower-case mode name.
func (m AccessMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// Writes reports whether a commit in this mode writes to the database.
func (m AccessMode) Writes() bool {
	return m == ModeInsert || m == ModeEdit || m == ModeDel
}
