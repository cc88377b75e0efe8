//go:build windows

package dialog

import (
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

const (
	bmClick   = 0x00F5
	wmKeyDown = 0x0100
	wmKeyUp   = 0x0101
)

var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procEnumWindows      = user32.NewProc("EnumWindows")
	procEnumChildWindows = user32.NewProc("EnumChildWindows")
	procGetWindowTextW   = user32.NewProc("GetWindowTextW")
	procIsWindowVisible  = user32.NewProc("IsWindowVisible")
	procSendMessageW     = user32.NewProc("SendMessageW")
	procPostMessageW     = user32.NewProc("PostMessageW")
)

// 回调数量有上限，只创建一次；状态经由 probeState 传递。
var (
	probeMu    sync.Mutex
	probeState struct {
		keywords []string
		buttons  []string
		window   uintptr
		title    string
		button   uintptr
	}
	topCallback   = syscall.NewCallback(enumTop)
	childCallback = syscall.NewCallback(enumChild)
)

func windowText(h uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(h, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return syscall.UTF16ToString(buf[:n])
}

func enumTop(h uintptr, _ uintptr) uintptr {
	if v, _, _ := procIsWindowVisible.Call(h); v == 0 {
		return 1
	}
	title := windowText(h)
	if title == "" {
		return 1
	}
	for _, k := range probeState.keywords {
		if strings.Contains(title, k) {
			probeState.window, probeState.title = h, title
			return 0
		}
	}
	return 1
}

func enumChild(h uintptr, _ uintptr) uintptr {
	text := windowText(h)
	for _, b := range probeState.buttons {
		if text != "" && strings.Contains(text, b) {
			probeState.button = h
			return 0
		}
	}
	return 1
}

func platformProbe(o Options) contract.NudgeResult {
	probeMu.Lock()
	defer probeMu.Unlock()
	probeState.keywords, probeState.buttons = o.Keywords, o.Buttons
	probeState.window, probeState.title, probeState.button = 0, "", 0

	_, _, _ = procEnumWindows.Call(topCallback, 0)
	if probeState.window == 0 {
		return contract.NudgeResult{}
	}
	res := contract.NudgeResult{Found: true, Window: probeState.title}
	_, _, _ = procEnumChildWindows.Call(probeState.window, childCallback, 0)
	if probeState.button != 0 {
		procSendMessageW.Call(probeState.button, bmClick, 0, 0)
		res.Clicked = true
		return res
	}
	vk := uintptr(strings.ToUpper(o.Key)[0])
	procPostMessageW.Call(probeState.window, wmKeyDown, vk, 0)
	procPostMessageW.Call(probeState.window, wmKeyUp, vk, 0)
	res.KeySent = true
	return res
}
