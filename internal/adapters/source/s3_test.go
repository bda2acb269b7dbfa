package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jobrunner/spacefetch/internal/domain"
)

type fakeS3 struct {
	objects map[string]string
	keys    []string
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.keys {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3Source(t *testing.T) {
	fake := &fakeS3{
		keys: []string{
			"ionex/2022/001/uqrg0010.22i.Z",
			"ionex/2022/002/uqrg0020.22i.Z",
			"ionex/2022/002/readme.txt",
			"other/2022/001/uqrg0010.22i.Z",
		},
		objects: map[string]string{"ionex/2022/001/uqrg0010.22i.Z": "zzz"},
	}
	s := &S3Source{client: fake, bucket: "gnss"}
	ctx := context.Background()

	entries, err := s.List(ctx, domain.Locator{ListPath: "ionex/2022/", Pattern: `uqrg\d{4}\.\d{2}i\.Z$`})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Name != "uqrg0010.22i.Z" || entries[0].Location != "ionex/2022/001/uqrg0010.22i.Z" {
		t.Errorf("entries[0] = %+v", entries[0])
	}

	var buf bytes.Buffer
	n, err := s.Fetch(ctx, entries[0], &buf)
	if err != nil || n != 3 || buf.String() != "zzz" {
		t.Errorf("Fetch() = %d, %q, %v", n, buf.String(), err)
	}

	if _, err := s.Fetch(ctx, entries[1], &buf); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrNotFound", err)
	}

	ok, err := s.Exists(ctx, entries[0])
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v", ok, err)
	}
	ok, err = s.Exists(ctx, entries[1])
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v", ok, err)
	}
}
