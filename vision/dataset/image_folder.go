package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// DefaultExtensions are the image types the preprocessing package can decode.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tif", ".tiff"}

// LabeledFolder is a dataset loaded from a directory where each subdirectory
// is a class. Classes are sorted by name and files within a class by name, so
// the same tree always yields the same labels and order.
type LabeledFolder struct {
	root       string
	imagePaths []string
	labels     []int
	classes    ClassIndex
}

// NewLabeledFolder scans root. An empty extensions list means DefaultExtensions.
// Matching is case-insensitive.
func NewLabeledFolder(root string, extensions []string) (*LabeledFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errs.Data("list classes", root, err)
	}

	var classNames []string
	for _, entry := range entries {
		if isDir(root, entry) {
			classNames = append(classNames, entry.Name())
		}
	}
	if len(classNames) == 0 {
		return nil, errs.Dataf("list classes", root, "no class subdirectories")
	}
	sort.Strings(classNames)

	folder := &LabeledFolder{
		root:    root,
		classes: NewClassIndex(classNames),
	}

	match := extensionMatcher(extensions)
	for classIdx, className := range classNames {
		files, err := listImages(filepath.Join(root, className), match)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			folder.imagePaths = append(folder.imagePaths, file)
			folder.labels = append(folder.labels, classIdx)
		}
	}

	if len(folder.imagePaths) == 0 {
		return nil, errs.Dataf("list images", root, "no images found")
	}

	return folder, nil
}

// Len returns the number of items in the dataset
func (d *LabeledFolder) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *LabeledFolder) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Root returns the scanned directory.
func (d *LabeledFolder) Root() string {
	return d.root
}

// NumClasses returns the number of classes, including classes with no images.
func (d *LabeledFolder) NumClasses() int {
	return d.classes.Len()
}

// Classes returns the index assigned while scanning. Subsets share it.
func (d *LabeledFolder) Classes() ClassIndex {
	return d.classes
}

// ClassDistribution returns the number of samples per class
func (d *LabeledFolder) ClassDistribution() map[string]int {
	dist := make(map[string]int, d.classes.Len())
	for _, name := range d.classes.Names() {
		dist[name] = 0
	}
	for _, label := range d.labels {
		name, _ := d.classes.Label(label)
		dist[name]++
	}
	return dist
}

// ValidationSplit partitions every class separately: the first
// int(fraction*n) files of a class (in sorted order) go to validation, the
// rest to training. fraction 0 returns an empty validation set.
func (d *LabeledFolder) ValidationSplit(fraction float64) (train, val *LabeledFolder, err error) {
	if fraction < 0 || fraction >= 1 {
		return nil, nil, errs.Configf("validation split", "fraction must be in [0, 1), got %g", fraction)
	}

	perClass := make([][]int, d.classes.Len())
	for i, label := range d.labels {
		perClass[label] = append(perClass[label], i)
	}

	var trainIdx, valIdx []int
	for _, indices := range perClass {
		cut := int(fraction * float64(len(indices)))
		valIdx = append(valIdx, indices[:cut]...)
		trainIdx = append(trainIdx, indices[cut:]...)
	}

	return d.Subset(trainIdx), d.Subset(valIdx), nil
}

// Subset creates a subset of the dataset with the specified indices
func (d *LabeledFolder) Subset(indices []int) *LabeledFolder {
	subset := &LabeledFolder{
		root:       d.root,
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		classes:    d.classes,
	}

	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}

	return subset
}

// String returns a string representation of the dataset
func (d *LabeledFolder) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "LabeledFolder %s: %d samples, %d classes\n", d.root, len(d.imagePaths), d.classes.Len())
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, name := range d.classes.Names() {
		fmt.Fprintf(&sb, "  %s: %d samples\n", name, dist[name])
	}

	return sb.String()
}

func extensionMatcher(extensions []string) func(string) bool {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}
	return func(name string) bool {
		return allowed[strings.ToLower(filepath.Ext(name))]
	}
}

// listImages returns the matching regular files directly inside dir, sorted.
func listImages(dir string, match func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Data("list images", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if isDir(dir, entry) || !match(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// isDir follows symlinks, the way class folders are often assembled.
func isDir(parent string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, entry.Name()))
	return err == nil && info.IsDir()
}
