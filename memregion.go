package razdebug

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// MemRegion represents a memory region mapped into a process
type MemRegion struct {
	Start       uintptr
	End         uintptr
	Permissions string
	Offset      uint64
	Device      string
	Inode       uint64
	Pathname    string
}

// Contains reports whether addr falls inside the region
func (region MemRegion) Contains(addr uintptr) bool {
	return addr >= region.Start && addr < region.End
}

// MemRegions returns the mapped memory regions of the process
func (pid Process) MemRegions() ([]MemRegion, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, Error(err)
	}
	defer file.Close()

	regions := make([]MemRegion, 0)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var region MemRegion

		// incomplete lines cause an EOF panic in stripped binary
		if len(strings.Fields(scanner.Text())) < 5 {
			continue
		}

		// address           perms offset  dev   inode   pathname
		// 08048000-08056000 r-xp 00000000 03:0c 64593   /usr/sbin/gpm
		fmt.Sscanf(scanner.Text(), "%x-%x %s %x %s %d %s",
			&region.Start, &region.End,
			&region.Permissions,
			&region.Offset,
			&region.Device,
			&region.Inode,
			&region.Pathname)

		regions = append(regions, region)
	}

	return regions, nil
}

// FindRegion returns the mapped region containing addr, or nil
func (pid Process) FindRegion(addr uintptr) (*MemRegion, error) {
	regions, err := pid.MemRegions()
	if err != nil {
		return nil, Error(err)
	}

	for i := range regions {
		if regions[i].Contains(addr) {
			return &regions[i], nil
		}
	}

	return nil, nil
}
