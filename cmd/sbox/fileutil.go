package main

import (
	"io"
	"os"
)

// stdio holds the files given by --in, --out and --err, the terminal of
// sbox is used for the rest
type stdio struct {
	files [3]*os.File
}

func openStdio(inputFile, outputFile, errorFile string) (*stdio, error) {
	s := new(stdio)
	var err error
	if inputFile != "" {
		if s.files[0], err = os.Open(inputFile); err != nil {
			return nil, err
		}
	}
	if outputFile != "" {
		if s.files[1], err = os.OpenFile(outputFile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644); err != nil {
			s.Close()
			return nil, err
		}
	}
	if errorFile != "" {
		if s.files[2], err = os.OpenFile(errorFile, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *stdio) Stdin() io.Reader {
	if s.files[0] != nil {
		return s.files[0]
	}
	return os.Stdin
}

func (s *stdio) Stdout() io.Writer {
	if s.files[1] != nil {
		return s.files[1]
	}
	return os.Stdout
}

func (s *stdio) Stderr() io.Writer {
	if s.files[2] != nil {
		return s.files[2]
	}
	return os.Stderr
}

func (s *stdio) Close() {
	for _, f := range s.files {
		if f != nil {
			f.Close()
		}
	}
}
