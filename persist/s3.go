package persist

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-metal-alexnet/errs"
)

// Publisher copies saved artifacts to s3://Bucket/Prefix/<file name>.
type Publisher struct {
	client s3iface.S3API
	Bucket string
	Prefix string
}

// ParseURI splits s3://bucket/some/prefix into its bucket and key prefix.
func ParseURI(uri string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	if rest == uri {
		return "", "", errs.Configf("parse upload uri", "%q is not an s3:// URI", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errs.Configf("parse upload uri", "%q has no bucket", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewPublisher builds a client from the default AWS credential chain and
// shared config.
func NewPublisher(uri string) (*Publisher, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errs.Config("create aws session", err)
	}
	return NewPublisherWithClient(s3.New(sess), uri)
}

// NewPublisherWithClient uses an existing S3 client.
func NewPublisherWithClient(client s3iface.S3API, uri string) (*Publisher, error) {
	bucket, prefix, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	return &Publisher{client: client, Bucket: bucket, Prefix: prefix}, nil
}

// Key returns the object key a local file is uploaded to.
func (p *Publisher) Key(file string) string {
	return path.Join(p.Prefix, filepath.Base(file))
}

// Upload puts each file, stopping at the first failure. tags are attached as
// object metadata.
func (p *Publisher) Upload(ctx context.Context, tags map[string]string, files ...string) error {
	metadata := make(map[string]*string, len(tags))
	for k, v := range tags {
		metadata[k] = aws.String(v)
	}

	for _, file := range files {
		if err := p.put(ctx, file, metadata); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) put(ctx context.Context, file string, metadata map[string]*string) error {
	f, err := os.Open(file)
	if err != nil {
		return errs.FS("open artifact", file, err)
	}
	defer f.Close()

	key := p.Key(file)
	_, err = p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(p.Bucket),
		Key:      aws.String(key),
		Body:     f,
		Metadata: metadata,
	})
	if err != nil {
		return errs.FS("upload artifact", "s3://"+p.Bucket+"/"+key, err)
	}
	klog.Infof("Uploaded %s to s3://%s/%s", file, p.Bucket, key)
	return nil
}
