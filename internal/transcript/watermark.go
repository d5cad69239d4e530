package transcript

// Watermark is the relay's position in the agent's conversation log: which
// log file is being tracked and the last turn boundary already relayed.
// Locked pins the watermark to one log file so a resume flow does not pick
// up a different, newer log from a concurrent agent run in the same project.
type Watermark struct {
	Path     string
	LastUUID string
	Locked   bool
}

// Advance moves the watermark forward. Empty uuids are ignored so the
// watermark can never move backward or be cleared by a failed extraction.
func (w *Watermark) Advance(uuid string) {
	if uuid != "" {
		w.LastUUID = uuid
	}
}

// Retarget switches the watermark to a new log file and bookmarks its
// current tail. No-op when the path is unchanged or the watermark is locked.
// Returns true if the watermark moved to a new file.
func (w *Watermark) Retarget(path string) bool {
	if w.Locked || path == "" || path == w.Path {
		return false
	}
	w.Path = path
	w.LastUUID = SnapshotLastUUID(path)
	return true
}

// LockTo pins the watermark to a specific log file, bookmarking its tail.
func (w *Watermark) LockTo(path string) {
	w.Path = path
	w.LastUUID = SnapshotLastUUID(path)
	w.Locked = true
}
