package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// PrivateDirPerm is used for directories holding session secrets.
const PrivateDirPerm os.FileMode = 0o700

// EnsureParentDir creates the directory that will hold path, readable only by
// the current user. An existing directory is left as is.
func EnsureParentDir(path string) (string, error) {
	dir := filepath.Dir(path)
	if dir == "." {
		return dir, nil
	}

	if err := os.MkdirAll(dir, PrivateDirPerm); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return dir, nil
}
