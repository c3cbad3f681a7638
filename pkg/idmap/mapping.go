package idmap

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Entry maps Size consecutive ids starting at ContainerID inside the
// namespace to ids starting at HostID outside of it
type Entry struct {
	ContainerID uint32 `yaml:"container_id"`
	HostID      uint32 `yaml:"host_id"`
	Size        uint32 `yaml:"size"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%d:%d:%d", e.ContainerID, e.HostID, e.Size)
}

// Mapping holds the uid and gid tables of one user namespace
type Mapping struct {
	UIDs []Entry `yaml:"uids"`
	GIDs []Entry `yaml:"gids"`
}

// Validate checks that both tables are non-empty, every range is valid and
// ranges are pairwise disjoint in container and host space
func (m Mapping) Validate() error {
	if err := validateTable(m.UIDs); err != nil {
		return &Error{Op: "uid table", Err: err}
	}
	if err := validateTable(m.GIDs); err != nil {
		return &Error{Op: "gid table", Err: err}
	}
	return nil
}

// HasRoot reports whether container id 0 is mapped in both tables
func (m Mapping) HasRoot() bool {
	_, uok := lookup(m.UIDs, 0)
	_, gok := lookup(m.GIDs, 0)
	return uok && gok
}

// UIDCount returns the number of mapped uids
func (m Mapping) UIDCount() uint64 {
	return count(m.UIDs)
}

// GIDCount returns the number of mapped gids
func (m Mapping) GIDCount() uint64 {
	return count(m.GIDs)
}

// IsUIDMapped reports whether container uid is mapped
func (m Mapping) IsUIDMapped(id uint32) bool {
	_, ok := lookup(m.UIDs, id)
	return ok
}

// IsGIDMapped reports whether container gid is mapped
func (m Mapping) IsGIDMapped(id uint32) bool {
	_, ok := lookup(m.GIDs, id)
	return ok
}

// HostUID translates container uid into host uid
func (m Mapping) HostUID(id uint32) (uint32, bool) {
	return lookup(m.UIDs, id)
}

// HostGID translates container gid into host gid
func (m Mapping) HostGID(id uint32) (uint32, bool) {
	return lookup(m.GIDs, id)
}

// IsSingle reports whether the mapping only maps root onto the given ids
func (m Mapping) IsSingle(uid, gid uint32) bool {
	return len(m.UIDs) == 1 && len(m.GIDs) == 1 &&
		m.UIDs[0] == Entry{0, uid, 1} && m.GIDs[0] == Entry{0, gid, 1}
}

func (m Mapping) String() string {
	return "uid[" + formatEntries(m.UIDs) + "] gid[" + formatEntries(m.GIDs) + "]"
}

func formatEntries(t []Entry) string {
	s := make([]string, 0, len(t))
	for _, e := range t {
		s = append(s, e.String())
	}
	return strings.Join(s, ",")
}

// FormatTable formats a table as the content of /proc/<pid>/uid_map
func FormatTable(t []Entry) []byte {
	var data []byte
	for _, e := range t {
		data = strconv.AppendUint(data, uint64(e.ContainerID), 10)
		data = append(data, ' ')
		data = strconv.AppendUint(data, uint64(e.HostID), 10)
		data = append(data, ' ')
		data = strconv.AppendUint(data, uint64(e.Size), 10)
		data = append(data, '\n')
	}
	return data
}

// helperArgs formats a table as arguments of newuidmap/newgidmap
func helperArgs(t []Entry) []string {
	args := make([]string, 0, 3*len(t))
	for _, e := range t {
		args = append(args,
			strconv.FormatUint(uint64(e.ContainerID), 10),
			strconv.FormatUint(uint64(e.HostID), 10),
			strconv.FormatUint(uint64(e.Size), 10))
	}
	return args
}

func validateTable(t []Entry) error {
	if len(t) == 0 {
		return ErrNoRoot
	}
	for _, e := range t {
		if e.Size == 0 ||
			uint64(e.ContainerID)+uint64(e.Size) > math.MaxUint32+1 ||
			uint64(e.HostID)+uint64(e.Size) > math.MaxUint32+1 {
			return fmt.Errorf("%w: %v", ErrInvalidRange, e)
		}
	}
	if err := checkDisjoint(t, func(e Entry) uint32 { return e.ContainerID }); err != nil {
		return err
	}
	return checkDisjoint(t, func(e Entry) uint32 { return e.HostID })
}

func checkDisjoint(t []Entry, start func(Entry) uint32) error {
	s := append([]Entry(nil), t...)
	sort.Slice(s, func(i, j int) bool { return start(s[i]) < start(s[j]) })
	for i := 1; i < len(s); i++ {
		if uint64(start(s[i-1]))+uint64(s[i-1].Size) > uint64(start(s[i])) {
			return fmt.Errorf("%w: %v and %v", ErrOverlap, s[i-1], s[i])
		}
	}
	return nil
}

func lookup(t []Entry, id uint32) (uint32, bool) {
	for _, e := range t {
		if id >= e.ContainerID && uint64(id) < uint64(e.ContainerID)+uint64(e.Size) {
			return e.HostID + (id - e.ContainerID), true
		}
	}
	return 0, false
}

func count(t []Entry) uint64 {
	var n uint64
	for _, e := range t {
		n += uint64(e.Size)
	}
	return n
}
