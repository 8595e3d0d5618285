package scm

import (
	"os"
	"path/filepath"
)

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(b), nil
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func removeGitDir(root string) error {
	return os.RemoveAll(filepath.Join(root, ".git"))
}
