//go:build !windows

package action

import "fmt"

// SendMediaKey has no implementation on non-Windows platforms; the source
// plugins and actions that depend on Win32 APIs are only ever wired on
// Windows builds.
func SendMediaKey(cmd MediaCommand) error {
	return fmt.Errorf("media actions are only supported on windows")
}
