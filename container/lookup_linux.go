package container

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// lookPath resolves name against PATH of env inside the current root.
// Without PATH the default one is searched.
func lookPath(name string, env []string) (string, error) {
	// don't look if a path is provided
	if strings.ContainsRune(name, '/') {
		return name, findExecutable(name)
	}
	var firstErr error
	for _, dir := range findPath(env) {
		if dir == "" {
			dir = "."
		}
		p := filepath.Join(dir, name)
		err := findExecutable(p)
		if err == nil {
			return p, nil
		}
		if firstErr == nil && !os.IsNotExist(err) {
			firstErr = err
		}
	}
	if firstErr != nil {
		return "", firstErr
	}
	return "", &fs.PathError{Op: "lookup", Path: name, Err: syscall.ENOENT}
}

func findExecutable(file string) error {
	d, err := os.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return &fs.PathError{Op: "exec", Path: file, Err: syscall.EACCES}
}

func findPath(env []string) []string {
	// the last PATH= wins
	const pathPrefix = "PATH="
	for i := len(env) - 1; i >= 0; i-- {
		if s := env[i]; strings.HasPrefix(s, pathPrefix) {
			return filepath.SplitList(s[len(pathPrefix):])
		}
	}
	return filepath.SplitList(PathEnv[len(pathPrefix):])
}
