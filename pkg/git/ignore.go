package git

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var ErrNoRepository = errors.New("no git repository found")

// FindRoot walks up from path to the first directory containing a .git directory.
func FindRoot(fs afero.Fs, path string) (string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	for {
		isDir, err := afero.IsDir(fs, filepath.Join(path, ".git"))
		if err == nil && isDir {
			return path, nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", ErrNoRepository
		}
		path = parent
	}
}

// EnsureIgnored appends the patterns missing from the .gitignore in root, creating the file if needed.
// It returns the patterns it added.
func EnsureIgnored(fs afero.Fs, root string, patterns ...string) ([]string, error) {
	gitignorePath := filepath.Join(root, ".gitignore")

	existing, err := afero.ReadFile(fs, gitignorePath)
	if err != nil {
		exists, existsErr := afero.Exists(fs, gitignorePath)
		if existsErr != nil || exists {
			return nil, errors.Wrapf(err, "failed to read %s", gitignorePath)
		}
	}

	present := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		present[strings.TrimSpace(scanner.Text())] = true
	}

	var added []string
	var buf bytes.Buffer
	buf.Write(existing)
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" || present[pattern] {
			continue
		}
		if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
		buf.WriteString(pattern + "\n")
		present[pattern] = true
		added = append(added, pattern)
	}

	if len(added) == 0 {
		return nil, nil
	}

	if err := afero.WriteFile(fs, gitignorePath, buf.Bytes(), 0o644); err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", gitignorePath)
	}
	return added, nil
}
