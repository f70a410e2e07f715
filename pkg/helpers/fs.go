package helpers

import "os"

func (h *Helpers) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (h *Helpers) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (h *Helpers) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
