package idmap

import (
	"math"
	"os"
)

const maxID = math.MaxUint32

// Current maps container root onto the effective ids of the caller.
// No sub-id allocation is needed.
func Current() Mapping {
	return Single(uint32(os.Geteuid()), uint32(os.Getegid()))
}

// Single maps container root onto the given host ids
func Single(uid, gid uint32) Mapping {
	return Mapping{
		UIDs: []Entry{{ContainerID: 0, HostID: uid, Size: 1}},
		GIDs: []Entry{{ContainerID: 0, HostID: gid, Size: 1}},
	}
}

// ForCurrentUser is ForUser for the effective ids of the caller
func ForCurrentUser(r Registry) (Mapping, error) {
	return ForUser(uint32(os.Geteuid()), uint32(os.Getegid()), r)
}

// ForUser maps container root onto uid/gid and container ids from 1 onward
// onto the sub-id ranges allotted to the user, in registry order
func ForUser(uid, gid uint32, r Registry) (Mapping, error) {
	uname, gname := lookupNames(uid, gid)
	uranges, err := r.SubUIDs(uname, uid)
	if err != nil {
		return Mapping{}, &Error{Op: "read " + r.SubUIDPath, Err: err}
	}
	granges, err := r.SubGIDs(gname, gid)
	if err != nil {
		return Mapping{}, &Error{Op: "read " + r.SubGIDPath, Err: err}
	}
	return FromRanges(uid, gid, uranges, granges)
}

// FromRanges builds the mapping from already resolved allocations
func FromRanges(uid, gid uint32, uranges, granges []Range) (Mapping, error) {
	uids := buildTable(uid, uranges)
	if len(uids) < 2 {
		return Mapping{}, &Error{Op: "uid table", Err: ErrNoAllocation}
	}
	gids := buildTable(gid, granges)
	if len(gids) < 2 {
		return Mapping{}, &Error{Op: "gid table", Err: ErrNoAllocation}
	}
	m := Mapping{UIDs: uids, GIDs: gids}
	if err := m.Validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

func buildTable(owner uint32, ranges []Range) []Entry {
	t := []Entry{{ContainerID: 0, HostID: owner, Size: 1}}
	next := uint64(1)
	for _, r := range ranges {
		// the owner id is already mapped to root
		for _, part := range splitAround(r, owner) {
			if next+uint64(part.Count) > maxID+1 {
				part.Count = uint32(maxID + 1 - next)
			}
			if part.Count == 0 || overlapsHost(t, part) {
				continue
			}
			t = append(t, Entry{ContainerID: uint32(next), HostID: part.Start, Size: part.Count})
			next += uint64(part.Count)
		}
	}
	return t
}

func splitAround(r Range, id uint32) []Range {
	end := uint64(r.Start) + uint64(r.Count)
	if uint64(id) < uint64(r.Start) || uint64(id) >= end {
		return []Range{r}
	}
	var parts []Range
	if id > r.Start {
		parts = append(parts, Range{Start: r.Start, Count: id - r.Start})
	}
	if uint64(id)+1 < end {
		parts = append(parts, Range{Start: id + 1, Count: uint32(end - uint64(id) - 1)})
	}
	return parts
}

func overlapsHost(t []Entry, r Range) bool {
	for _, e := range t {
		if uint64(r.Start) < uint64(e.HostID)+uint64(e.Size) &&
			uint64(e.HostID) < uint64(r.Start)+uint64(r.Count) {
			return true
		}
	}
	return false
}
