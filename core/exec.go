package core

import (
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotFound is the error resulting if a path search failed to find an executable file.
var ErrNotFound = exec.ErrNotFound

func findExecutable(fsys afero.Fs, file string) error {
	d, err := fsys.Stat(file)
	if err != nil {
		return err
	}
	if m := d.Mode(); !m.IsDir() && m&0111 != 0 {
		return nil
	}
	return fs.ErrPermission
}

// LookPath searches for an executable named file in the directories named by
// the path list. If file contains a slash, it is tried directly and the path
// list is not consulted. The result may be an absolute path or a path
// relative to the current directory.
func LookPath(fsys afero.Fs, pathList, file string) (string, error) {
	if strings.Contains(file, "/") {
		err := findExecutable(fsys, file)
		if err == nil {
			return file, nil
		}
		return "", err
	}
	if file == "" {
		return "", ErrNotFound
	}

	var permErr error
	for _, dir := range filepath.SplitList(pathList) {
		if dir == "" {
			// Unix shell semantics: path element "" means "."
			dir = "."
		}
		path := filepath.Join(dir, file)
		switch err := findExecutable(fsys, path); {
		case err == nil:
			if !strings.Contains(path, "/") {
				path = "./" + path
			}
			return path, nil
		case err == fs.ErrPermission && permErr == nil:
			permErr = err
		}
	}
	if permErr != nil {
		return "", permErr
	}
	return "", ErrNotFound
}
