package tensorboard

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// decodedEvent is the decoded subset of tensorflow.Event this package writes.
type decodedEvent struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Scalars     map[string]float32
}

// readEvents decodes every record of an event file, verifying checksums.
func readEvents(path string) ([]decodedEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open event file")
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var events []decodedEvent
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return events, nil
			}
			return nil, errors.Wrap(err, "read record header")
		}
		if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
			return nil, errors.New("record length checksum mismatch")
		}
		n := binary.LittleEndian.Uint64(header[:8])
		data := make([]byte, n+4)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errors.Wrap(err, "read record body")
		}
		body := data[:n]
		if maskedCRC(body) != binary.LittleEndian.Uint32(data[n:]) {
			return nil, errors.New("record data checksum mismatch")
		}
		ev, err := decodeEvent(body)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}

func decodeEvent(b []byte) (decodedEvent, error) {
	var ev decodedEvent
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ev, errors.Wrap(protowire.ParseError(n), "decode event")
		}
		b = b[n:]
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "decode wall_time")
			}
			ev.WallTime = math.Float64frombits(v)
			b = b[n:]
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "decode step")
			}
			ev.Step = int64(v)
			b = b[n:]
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "decode file_version")
			}
			ev.FileVersion = v
			b = b[n:]
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "decode summary")
			}
			scalars, err := decodeSummary(v)
			if err != nil {
				return ev, err
			}
			ev.Scalars = scalars
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "skip event field")
			}
			b = b[n:]
		}
	}
	return ev, nil
}

func decodeSummary(b []byte) (map[string]float32, error) {
	scalars := make(map[string]float32)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "decode summary")
		}
		b = b[n:]
		if num != summaryValue || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "skip summary field")
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "decode summary value")
		}
		b = b[n:]

		var tag string
		var value float32
		for len(v) > 0 {
			num, typ, m := protowire.ConsumeTag(v)
			if m < 0 {
				return nil, errors.Wrap(protowire.ParseError(m), "decode value")
			}
			v = v[m:]
			switch {
			case num == valueTag && typ == protowire.BytesType:
				tag, m = protowire.ConsumeString(v)
			case num == valueSimpleValue && typ == protowire.Fixed32Type:
				var bits uint32
				bits, m = protowire.ConsumeFixed32(v)
				value = math.Float32frombits(bits)
			default:
				m = protowire.ConsumeFieldValue(num, typ, v)
			}
			if m < 0 {
				return nil, errors.Wrap(protowire.ParseError(m), "decode value field")
			}
			v = v[m:]
		}
		scalars[tag] = value
	}
	return scalars, nil
}
