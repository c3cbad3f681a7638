package idmap

import (
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/moby/sys/user"
)

// Default sub-id registry files
const (
	SubUIDPath = "/etc/subuid"
	SubGIDPath = "/etc/subgid"
)

// Range is one allotted sub-id range
type Range struct {
	Start uint32
	Count uint32
}

// Registry reads host sub-id allocations
type Registry struct {
	SubUIDPath string
	SubGIDPath string
}

// DefaultRegistry reads /etc/subuid and /etc/subgid
var DefaultRegistry = Registry{SubUIDPath: SubUIDPath, SubGIDPath: SubGIDPath}

// SubUIDs returns ranges allotted to the user by name or numeric uid
func (r Registry) SubUIDs(name string, uid uint32) ([]Range, error) {
	return readRanges(r.SubUIDPath, name, uid)
}

// SubGIDs returns ranges allotted to the group by name or numeric gid
func (r Registry) SubGIDs(name string, gid uint32) ([]Range, error) {
	return readRanges(r.SubGIDPath, name, gid)
}

func readRanges(path, name string, id uint32) ([]Range, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseRanges(f, name, id)
}

func parseRanges(r io.Reader, name string, id uint32) ([]Range, error) {
	idStr := strconv.FormatUint(uint64(id), 10)
	subs, err := user.ParseSubIDFilter(r, func(s user.SubID) bool {
		return (name != "" && s.Name == name) || s.Name == idStr
	})
	if err != nil {
		return nil, err
	}
	var ranges []Range
	for _, s := range subs {
		if s.SubID < 0 || s.Count <= 0 || s.SubID > maxID || s.Count > maxID {
			continue
		}
		ranges = append(ranges, Range{Start: uint32(s.SubID), Count: uint32(s.Count)})
	}
	return ranges, nil
}

// lookupNames returns user and group names of ids, empty if unknown
func lookupNames(uid, gid uint32) (string, string) {
	var uname, gname string
	if u, err := user.LookupUid(int(uid)); err == nil {
		uname = u.Name
	}
	if g, err := user.LookupGid(int(gid)); err == nil {
		gname = g.Name
	}
	return uname, gname
}
