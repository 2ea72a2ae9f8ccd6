//go:build linux

package memory

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

type osHandle struct{}

// attach locates the process through /proc. Under Wine the Windows module
// name shows up as the mapped file name, so the same names work on Linux.
func attach(processName, moduleName string) (*Process, error) {
	pid, err := findPID(processName)
	if err != nil {
		return nil, err
	}

	base, err := moduleBase(pid, moduleName)
	if err != nil {
		return nil, err
	}

	return &Process{Name: processName, PID: pid, Base: base}, nil
}

func findPID(name string) (int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if processMatches(pid, name) {
			return pid, nil
		}
	}
	return 0, fmt.Errorf("process %s not found", name)
}

func processMatches(pid int, name string) bool {
	if comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
		if strings.EqualFold(strings.TrimSpace(string(comm)), name) {
			return true
		}
	}

	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0 := strings.SplitN(string(cmdline), "\x00", 2)[0]
	return strings.EqualFold(baseName(argv0), name)
}

func moduleBase(pid int, module string) (uintptr, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return 0, fmt.Errorf("failed to read memory map: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// start-end perms offset dev inode path
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.Join(fields[5:], " ")
		if !strings.EqualFold(baseName(path), module) {
			continue
		}
		start := strings.SplitN(fields[0], "-", 2)[0]
		v, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad mapping %q: %w", fields[0], err)
		}
		return uintptr(v), nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read memory map: %w", err)
	}
	return 0, fmt.Errorf("module %s not mapped in pid %d", module, pid)
}

func baseName(path string) string {
	return path[strings.LastIndexAny(path, `/\`)+1:]
}

func (p *Process) readInto(addr uintptr, buf []byte) error {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: addr, Len: len(buf)}}

	n, err := unix.ProcessVMReadv(p.PID, local, remote, 0)
	if err != nil {
		return fmt.Errorf("read %d bytes at %#x: %w", len(buf), addr, err)
	}
	if n != len(buf) {
		return fmt.Errorf("short read at %#x: got %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

func (p *Process) close() error {
	return nil
}
