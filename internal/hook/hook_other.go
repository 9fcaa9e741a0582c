//go:build !windows

package hook

type unsupportedHook struct{}

// New returns a hook that cannot be installed: only Windows provides a low-level
// system-wide keyboard hook.
func New() Hook {
	return unsupportedHook{}
}

func (unsupportedHook) Install(Callback) error {
	return &HookError{Op: "install", Err: ErrHookUnsupported}
}

func (unsupportedHook) Uninstall() error { return nil }
