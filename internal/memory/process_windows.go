//go:build windows

package memory

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

type osHandle = windows.Handle

func attach(processName, moduleName string) (*Process, error) {
	pid, err := findPID(processName)
	if err != nil {
		return nil, err
	}

	h, err := windows.OpenProcess(windows.PROCESS_VM_READ|windows.PROCESS_QUERY_INFORMATION, false, pid)
	if err != nil {
		return nil, fmt.Errorf("failed to open pid %d: %w", pid, err)
	}

	base, err := moduleBase(pid, moduleName)
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	return &Process{Name: processName, PID: int(pid), Base: base, handle: h}, nil
}

func findPID(name string) (uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot processes: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Process32First(snap, &entry); err == nil; err = windows.Process32Next(snap, &entry) {
		if strings.EqualFold(windows.UTF16ToString(entry.ExeFile[:]), name) {
			return entry.ProcessID, nil
		}
	}
	return 0, fmt.Errorf("process %s not found", name)
}

func moduleBase(pid uint32, module string) (uintptr, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot modules: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	for err = windows.Module32First(snap, &entry); err == nil; err = windows.Module32Next(snap, &entry) {
		if strings.EqualFold(windows.UTF16ToString(entry.Module[:]), module) {
			return entry.ModBaseAddr, nil
		}
	}
	return 0, fmt.Errorf("module %s not loaded in pid %d", module, pid)
}

func (p *Process) readInto(addr uintptr, buf []byte) error {
	var n uintptr
	if err := windows.ReadProcessMemory(p.handle, addr, &buf[0], uintptr(len(buf)), &n); err != nil {
		return fmt.Errorf("read %d bytes at %#x: %w", len(buf), addr, err)
	}
	if int(n) != len(buf) {
		return fmt.Errorf("short read at %#x: got %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

func (p *Process) close() error {
	return windows.CloseHandle(p.handle)
}
