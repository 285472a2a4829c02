//go:build !linux

package engine

import (
	"errors"
	"os"
)

var errNoReflink = errors.New("reflink: unsupported platform")

func reflinkFile(string, string, os.FileInfo) error { return errNoReflink }
