package transform

// SetFileHook installs a hook called before each file is transformed.
func (e *Engine) SetFileHook(fn func(index int, path string) error) {
	e.fileHook = fn
}

// SetCrashHook installs a hook that stops a commit dead at the named point.
func (e *Engine) SetCrashHook(fn func(point string) bool) {
	e.crashHook = fn
}

var ErrSimulatedCrash = errSimulatedCrash
