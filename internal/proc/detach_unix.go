//go:build !windows

package proc

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// detachedProcAttr 让画布服务独立进程组运行 不随监管进程的信号组退出
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup 向整个进程组发送终止信号 覆盖画布服务派生的子进程
func signalGroup(pid int32, force bool) error {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	pgid, err := unix.Getpgid(int(pid))
	if err != nil {
		return err
	}
	return unix.Kill(-pgid, sig)
}
