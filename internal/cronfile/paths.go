package cronfile

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

const (
	configDirName = ".config"
	fileName      = ".crontab"
	lockSuffix    = ".lock"
	editSuffix    = ".edit"
)

// Paths locates one user's schedule file and its siblings.
type Paths struct {
	Dir  string // ~/.config
	File string // ~/.config/.crontab
	Lock string // daemon mutual exclusion
	Edit string // crontab tool's transient replacement temp
}

// Resolve derives the paths from $HOME, falling back to the user
// database when unset.
func Resolve() (Paths, error) {
	home := os.Getenv("HOME")
	if home == "" {
		u, err := user.Current()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve home directory: %w", err)
		}
		home = u.HomeDir
	}
	if home == "" {
		return Paths{}, errors.New("home directory unknown")
	}
	return FromHome(home), nil
}

// FromHome builds the paths under an explicit home directory.
func FromHome(home string) Paths {
	file := filepath.Join(home, configDirName, fileName)
	return Paths{
		Dir:  filepath.Dir(file),
		File: file,
		Lock: file + lockSuffix,
		Edit: file + editSuffix,
	}
}
