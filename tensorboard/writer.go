// Package tensorboard writes scalar summaries in the TensorFlow event file
// format so training runs can be inspected with TensorBoard.
//
// An event file is a sequence of TFRecords, each holding one serialized
// tensorflow.Event protocol buffer. The messages are encoded field by field
// with protowire; no generated code is needed for the handful of fields used.
package tensorboard

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// FileVersion is written in the first event of every file.
const FileVersion = "brain.Event:2"

// Field numbers from tensorflow/core/util/event.proto and summary.proto.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC is the CRC32-C checksum with TFRecord's rotation and offset.
func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// Writer appends events to a single file. It is safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
	path string
	now  func() time.Time
}

// NewWriter creates logDir if needed and opens a new event file named
// events.out.tfevents.<unix seconds>.<hostname>.
func NewWriter(logDir string) (*Writer, error) {
	return newWriter(logDir, time.Now)
}

func newWriter(logDir string, now func() time.Time) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "create log dir %s", logDir)
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	name := fmt.Sprintf("events.out.tfevents.%d.%s", now().Unix(), host)
	path := filepath.Join(logDir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open event file %s", path)
	}

	w := &Writer{file: file, buf: bufio.NewWriter(file), path: path, now: now}
	if err := w.writeEvent(encodeFileVersion(w.wallTime())); err != nil {
		file.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the event file path.
func (w *Writer) Path() string {
	return w.path
}

// AddScalar records one scalar value at step.
func (w *Writer) AddScalar(tag string, value float64, step int64) error {
	return w.AddScalars(step, map[string]float64{tag: value})
}

// AddScalars records several tags at the same step in one event, ordered by tag.
func (w *Writer) AddScalars(step int64, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}
	tags := make([]string, 0, len(values))
	for tag := range values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	var summary []byte
	for _, tag := range tags {
		summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
		summary = protowire.AppendBytes(summary, encodeValue(tag, values[tag]))
	}
	return w.writeEvent(encodeSummaryEvent(w.wallTime(), step, summary))
}

// Flush pushes buffered records to the file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return errors.New("event writer is closed")
	}
	return errors.Wrap(w.buf.Flush(), "flush event file")
}

// Close flushes and closes the file. Further calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.buf = nil
	return errors.Wrap(err, "close event file")
}

func (w *Writer) wallTime() float64 {
	return float64(w.now().UnixNano()) / 1e9
}

func (w *Writer) writeEvent(event []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return errors.New("event writer is closed")
	}

	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(event)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(event))

	for _, part := range [][]byte{header[:], event, footer[:]} {
		if _, err := w.buf.Write(part); err != nil {
			return errors.Wrap(err, "write event")
		}
	}
	return nil
}

func encodeFileVersion(wall float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wall))
	b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
	b = protowire.AppendString(b, FileVersion)
	return b
}

func encodeSummaryEvent(wall float64, step int64, summary []byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wall))
	b = protowire.AppendTag(b, eventStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(step))
	b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
	b = protowire.AppendBytes(b, summary)
	return b
}

func encodeValue(tag string, value float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, valueTag, protowire.BytesType)
	b = protowire.AppendString(b, tag)
	b = protowire.AppendTag(b, valueSimpleValue, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(float32(value)))
	return b
}
