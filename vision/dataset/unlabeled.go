package dataset

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// UnlabeledFolder lists the images to predict. The tree under root is walked
// recursively; every file is reported by its path relative to the root.
// Files of a directory come before those of its subdirectories, directories
// are visited in name order and files are sorted by name within each.
type UnlabeledFolder struct {
	root      string
	filenames []string
}

// NewUnlabeledFolder scans root. An empty extensions list means DefaultExtensions.
func NewUnlabeledFolder(root string, extensions []string) (*UnlabeledFolder, error) {
	match := extensionMatcher(extensions)
	var filenames []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !match(entry.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		filenames = append(filenames, rel)
		return nil
	})
	if err != nil {
		return nil, errs.Data("list test images", root, err)
	}
	if len(filenames) == 0 {
		return nil, errs.Dataf("list test images", root, "no images found")
	}
	sort.Slice(filenames, func(i, j int) bool {
		return walkOrderLess(filenames[i], filenames[j])
	})

	return &UnlabeledFolder{root: root, filenames: filenames}, nil
}

// walkOrderLess orders relative paths by directory components, then file name.
// A parent directory sorts before its children.
func walkOrderLess(a, b string) bool {
	dirA, fileA := filepath.Split(a)
	dirB, fileB := filepath.Split(b)
	partsA := splitDir(dirA)
	partsB := splitDir(dirB)
	for i := 0; i < len(partsA) && i < len(partsB); i++ {
		if partsA[i] != partsB[i] {
			return partsA[i] < partsB[i]
		}
	}
	if len(partsA) != len(partsB) {
		return len(partsA) < len(partsB)
	}
	return fileA < fileB
}

func splitDir(dir string) []string {
	dir = strings.Trim(dir, string(filepath.Separator))
	if dir == "" {
		return nil
	}
	return strings.Split(dir, string(filepath.Separator))
}

// Len returns the number of files.
func (u *UnlabeledFolder) Len() int {
	return len(u.filenames)
}

// GetItem returns the full path of file index. The label is always -1.
func (u *UnlabeledFolder) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(u.filenames) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(u.filenames))
	}
	return filepath.Join(u.root, u.filenames[index]), -1, nil
}

// Filenames returns the root-relative names in visiting order.
func (u *UnlabeledFolder) Filenames() []string {
	return append([]string(nil), u.filenames...)
}
