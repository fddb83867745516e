// Package process 提供服务进程的运行状态
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo 进程信息
type ProcessInfo struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

// Self 获取当前进程信息
func Self(ctx context.Context) (*ProcessInfo, error) {
	info, err := GetProcessByPID(ctx, os.Getpid())
	if err != nil {
		return nil, err
	}
	info.Goroutines = runtime.NumGoroutine()
	return info, nil
}

// GetProcessByPID 按 PID 获取进程信息，单项指标读取失败时保留零值
func GetProcessByPID(ctx context.Context, pid int) (*ProcessInfo, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("进程不存在: PID=%d", pid)
	}

	info := &ProcessInfo{PID: pid}
	info.Name, _ = proc.NameWithContext(ctx)
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}
	info.CPUPercent, _ = proc.CPUPercentWithContext(ctx)
	info.Threads, _ = proc.NumThreadsWithContext(ctx)
	return info, nil
}

// IsProcessRunning 检查进程是否正在运行
func IsProcessRunning(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil {
		return false
	}
	return running
}

// ErrAlreadyRunning PID 文件指向的进程仍在运行
var ErrAlreadyRunning = errors.New("process: another instance is running")

// AcquirePIDFile 写入当前 PID；文件中记录的其他进程仍在运行时返回 ErrAlreadyRunning
//
// 返回的 release 删除 PID 文件。
func AcquirePIDFile(path string) (release func() error, err error) {
	if data, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && pid != os.Getpid() && IsProcessRunning(pid) {
			return nil, fmt.Errorf("%w: PID=%d (%s)", ErrAlreadyRunning, pid, path)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("读取 PID 文件失败: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建 PID 文件目录失败: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("写入 PID 文件失败: %w", err)
	}
	return func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}, nil
}
