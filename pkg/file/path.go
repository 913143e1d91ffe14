package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path; ext may be given with or without the dot.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	dir := filepath.Dir(path)
	return filepath.Join(dir, Stem(path)+ext)
}

// Stem returns the base name of path without its extension.
// Dot files keep their name.
func Stem(path string) string {
	name := filepath.Base(path)
	lastDot := strings.LastIndex(name, ".")
	if lastDot <= 0 {
		return name
	}
	return name[:lastDot]
}
