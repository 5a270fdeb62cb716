//go:build windows

package proc

import (
	"fmt"
	"syscall"
)

func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// signalGroup Windows 下不支持进程组信号 交由调用方回退到单进程终止
func signalGroup(pid int32, force bool) error {
	return fmt.Errorf("process group signal not supported on windows")
}
