package persist

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/tsawler/go-metal-alexnet/config"
	"github.com/tsawler/go-metal-alexnet/errs"
	"github.com/tsawler/go-metal-alexnet/vision/dataset"
)

func TestModelPath(t *testing.T) {
	tests := []struct {
		name   string
		dir    string
		epoch  int
		format config.Format
		want   string
	}{
		{"DefaultJSON", "models", 200, config.FormatJSON, filepath.Join("models", "200.json")},
		{"ONNX", "out", 3, config.FormatONNX, filepath.Join("out", "3.onnx")},
		{"Nested", "a/b", 1, config.FormatJSON, filepath.Join("a", "b", "1.json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModelPath(tt.dir, tt.epoch, tt.format); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	if got := ClassesPath("models", 200); got != filepath.Join("models", "200.classes.json") {
		t.Errorf("Expected models/200.classes.json, got %s", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Run("CreatesNested", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		if err := EnsureDir(dir); err != nil {
			t.Fatalf("EnsureDir failed: %v", err)
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("Expected directory at %s", dir)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		dir := t.TempDir()
		for i := 0; i < 2; i++ {
			if err := EnsureDir(dir); err != nil {
				t.Fatalf("EnsureDir call %d failed: %v", i, err)
			}
		}
	})

	t.Run("FileInTheWay", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "models")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		err := EnsureDir(file)
		if !errs.Is(err, errs.Filesystem) {
			t.Errorf("Expected filesystem error, got %v", err)
		}
	})
}

func TestClassIndexSidecar(t *testing.T) {
	path := ClassesPath(t.TempDir(), 5)
	want := dataset.NewClassIndex([]string{"cat", "dog", "fox"})

	if err := WriteClassIndex(path, want); err != nil {
		t.Fatalf("WriteClassIndex failed: %v", err)
	}
	got, err := ReadClassIndex(path)
	if err != nil {
		t.Fatalf("ReadClassIndex failed: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want.Names(), got.Names())
	}

	t.Run("Missing", func(t *testing.T) {
		_, err := ReadClassIndex(filepath.Join(t.TempDir(), "nope.json"))
		if !errs.Is(err, errs.Filesystem) {
			t.Errorf("Expected filesystem error, got %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(bad, []byte(`{"cat": 0, "dog": 2}`), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := ReadClassIndex(bad)
		if !errs.Is(err, errs.Dataset) {
			t.Errorf("Expected dataset error, got %v", err)
		}
	})
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		prefix string
		ok     bool
	}{
		{"s3://bucket", "bucket", "", true},
		{"s3://bucket/", "bucket", "", true},
		{"s3://bucket/runs/alexnet/", "bucket", "runs/alexnet", true},
		{"s3:///prefix", "", "", false},
		{"gs://bucket", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseURI(tt.uri)
			if tt.ok != (err == nil) {
				t.Fatalf("Expected ok=%v, got err=%v", tt.ok, err)
			}
			if bucket != tt.bucket || prefix != tt.prefix {
				t.Errorf("Expected %q %q, got %q %q", tt.bucket, tt.prefix, bucket, prefix)
			}
		})
	}
}

type fakeS3 struct {
	s3iface.S3API
	puts   []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestPublisher(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "200.json")
	classes := filepath.Join(dir, "200.classes.json")
	os.WriteFile(model, []byte("model"), 0644)
	os.WriteFile(classes, []byte("classes"), 0644)

	t.Run("UploadsUnderPrefix", func(t *testing.T) {
		client := &fakeS3{}
		p, err := NewPublisherWithClient(client, "s3://models-bucket/alexnet")
		if err != nil {
			t.Fatalf("NewPublisherWithClient failed: %v", err)
		}
		err = p.Upload(context.Background(), map[string]string{"run-id": "abc"}, model, classes)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if len(client.puts) != 2 {
			t.Fatalf("Expected 2 puts, got %d", len(client.puts))
		}
		if got := aws.StringValue(client.puts[0].Key); got != "alexnet/200.json" {
			t.Errorf("Expected key alexnet/200.json, got %s", got)
		}
		if got := aws.StringValue(client.puts[1].Bucket); got != "models-bucket" {
			t.Errorf("Expected bucket models-bucket, got %s", got)
		}
		if client.bodies[0] != "model" {
			t.Errorf("Expected body %q, got %q", "model", client.bodies[0])
		}
		if got := aws.StringValue(client.puts[0].Metadata["run-id"]); got != "abc" {
			t.Errorf("Expected run-id metadata abc, got %s", got)
		}
	})

	t.Run("PutFailure", func(t *testing.T) {
		client := &fakeS3{err: errors.New("access denied")}
		p, _ := NewPublisherWithClient(client, "s3://b")
		err := p.Upload(context.Background(), nil, model)
		if !errs.Is(err, errs.Filesystem) {
			t.Errorf("Expected filesystem error, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		client := &fakeS3{}
		p, _ := NewPublisherWithClient(client, "s3://b")
		err := p.Upload(context.Background(), nil, filepath.Join(dir, "missing.json"))
		if !errs.Is(err, errs.Filesystem) {
			t.Errorf("Expected filesystem error, got %v", err)
		}
		if len(client.puts) != 0 {
			t.Errorf("Expected no puts, got %d", len(client.puts))
		}
	})

	t.Run("BadURI", func(t *testing.T) {
		_, err := NewPublisherWithClient(&fakeS3{}, "http://b")
		if !errs.Is(err, errs.Configuration) {
			t.Errorf("Expected configuration error, got %v", err)
		}
	})
}

func TestModelInfoTags(t *testing.T) {
	tags := ModelInfo{Epoch: 200, RunID: "abc", ModelName: "AlexNetGray"}.Tags()
	want := map[string]string{"epoch": "200", "run-id": "abc", "model": "AlexNetGray"}
	for k, v := range want {
		if tags[k] != v {
			t.Errorf("Expected %s=%s, got %s", k, v, tags[k])
		}
	}
	if got := (ModelInfo{Epoch: 1}).Tags(); len(got) != 1 {
		t.Errorf("Expected only the epoch tag, got %v", got)
	}
}
