//go:build windows

package action

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Virtual key codes for the media keys, per WinUser.h.
const (
	vkMediaNextTrack = 0xB0
	vkMediaPrevTrack = 0xB1
	vkMediaPlayPause = 0xB3
	vkVolumeMute     = 0xAD
	vkVolumeDown     = 0xAE
	vkVolumeUp       = 0xAF
)

var (
	modUser32        = windows.NewLazySystemDLL("user32.dll")
	procKeybdEvent   = modUser32.NewProc("keybd_event")
)

const (
	keyEventFExtendedKey = 0x0001
	keyEventFKeyUp       = 0x0002
)

// SendMediaKey injects a single media virtual-key press/release pair via
// the user32 keybd_event API. It is the Windows backend wired into
// MediaAction.Send.
func SendMediaKey(cmd MediaCommand) error {
	vk, ok := mediaVK(cmd)
	if !ok {
		return fmt.Errorf("unsupported media command %q", cmd)
	}
	procKeybdEvent.Call(uintptr(vk), 0, keyEventFExtendedKey, 0)
	procKeybdEvent.Call(uintptr(vk), 0, keyEventFExtendedKey|keyEventFKeyUp, 0)
	return nil
}

func mediaVK(cmd MediaCommand) (uint8, bool) {
	switch cmd {
	case MediaPlayPause:
		return vkMediaPlayPause, true
	case MediaNext:
		return vkMediaNextTrack, true
	case MediaPrevious:
		return vkMediaPrevTrack, true
	case MediaMute:
		return vkVolumeMute, true
	case MediaVolumeUp:
		return vkVolumeUp, true
	case MediaVolumeDown:
		return vkVolumeDown, true
	default:
		return 0, false
	}
}
