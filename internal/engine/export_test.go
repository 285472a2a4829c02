package engine

// NewJuiceFSEngineForTest builds an engine reading mounts from mountsFile and
// invoking command.
func NewJuiceFSEngineForTest(mountsFile, command string) *JuiceFSEngine {
	e := NewJuiceFSEngine()
	e.mountsFile = mountsFile
	e.command = command
	return e
}

// OnJuiceFS exposes mount detection.
func (e *JuiceFSEngine) OnJuiceFS(path string) bool {
	return e.onJuiceFS(path)
}
