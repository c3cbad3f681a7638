package cgroup

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsCgroup2 checks whether path lives on a cgroup2 filesystem
func IsCgroup2(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return st.Type == unix.CGROUP2_SUPER_MAGIC
}

// readFile reads cgroup file and handles potential EINTR error while read to
// the slow device (cgroup)
func readFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	for err != nil && errors.Is(err, syscall.EINTR) {
		data, err = os.ReadFile(p)
	}
	return data, err
}

// writeFile writes cgroup file and handles potential EINTR error while writes to
// the slow device (cgroup). The file must exist: a missing interface file
// means the controller or the node itself is absent.
func writeFile(p string, content []byte) error {
	err := writeExisting(p, content)
	for err != nil && errors.Is(err, syscall.EINTR) {
		err = writeExisting(p, content)
	}
	return err
}

func writeExisting(p string, content []byte) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	_, err = f.Write(content)
	if err1 := f.Close(); err == nil {
		err = err1
	}
	return err
}

func readUint(p string) (uint64, error) {
	b, err := readFile(p)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	if s == "max" {
		return Unlimited, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func isBusy(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ENOTEMPTY)
}
