// Package persist decides where a run's artifacts live and moves them there:
// the model file, the class-index sidecar and, optionally, an S3 copy.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/tsawler/go-metal-alexnet/config"
	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/vision/dataset"
)

// ModelPath returns <dir>/<epoch>.<ext>, e.g. models/200.json.
func ModelPath(dir string, epoch int, format config.Format) string {
	return filepath.Join(dir, strconv.Itoa(epoch)+"."+format.Extension())
}

// ClassesPath returns the class-index sidecar for a model, <dir>/<epoch>.classes.json.
func ClassesPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("%d.classes.json", epoch))
}

// EnsureDir creates dir and any parents. An existing directory is not an
// error; anything else that prevents the directory from existing is a
// FilesystemError.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.FS("create model directory", dir, err)
	}
	return nil
}

// WriteClassIndex stores classes as a name -> label JSON object.
func WriteClassIndex(path string, classes dataset.ClassIndex) error {
	data, err := json.MarshalIndent(classes, "", "  ")
	if err != nil {
		return errs.FS("encode class index", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return errs.FS("write class index", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.FS("write class index", path, err)
	}
	return nil
}

// ReadClassIndex loads a sidecar written by WriteClassIndex.
func ReadClassIndex(path string) (dataset.ClassIndex, error) {
	var classes dataset.ClassIndex
	data, err := os.ReadFile(path)
	if err != nil {
		return classes, errs.FS("read class index", path, err)
	}
	if err := json.Unmarshal(data, &classes); err != nil {
		return classes, errs.Data("decode class index", path, errors.Wrap(err, "malformed class index"))
	}
	return classes, nil
}

// ModelInfo is the run state stored with a saved model.
type ModelInfo struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	RunID       string
	ModelName   string
	Description string
	Classes     []string
}

// Tags renders info as object metadata for publication.
func (info ModelInfo) Tags() map[string]string {
	tags := map[string]string{"epoch": strconv.Itoa(info.Epoch)}
	if info.RunID != "" {
		tags["run-id"] = info.RunID
	}
	if info.ModelName != "" {
		tags["model"] = info.ModelName
	}
	return tags
}
