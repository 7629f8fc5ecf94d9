package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalPut(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(filepath.Join(dir, "media"), "/media/")
	if err != nil {
		t.Fatal(err)
	}
	url, err := l.Put(context.Background(), "Bike.JPG", "image/jpeg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "/media/") || !strings.HasSuffix(url, ".jpg") {
		t.Fatalf("url = %q", url)
	}
	b, err := os.ReadFile(filepath.Join(l.Dir(), strings.TrimPrefix(url, "/media/")))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "jpegbytes" {
		t.Fatalf("content = %q", b)
	}

	again, _ := l.Put(context.Background(), "Bike.JPG", "image/jpeg", strings.NewReader("x"))
	if again == url {
		t.Fatal("keys must not collide")
	}
}

func TestLocalPut_Cancelled(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "/media")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Put(ctx, "a.png", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected context error")
	}
}

func TestObjectKeyAndPublicBase(t *testing.T) {
	if k := ObjectKey("uploads", "../../etc/passwd.averyverylongext"); !strings.HasPrefix(k, "uploads/") || strings.Contains(k, "..") || strings.Contains(k, ".averyvery") {
		t.Fatalf("key = %q", k)
	}
	cases := []struct {
		cfg  S3Config
		want string
	}{
		{S3Config{Bucket: "b", Region: "eu-west-1"}, "https://b.s3.eu-west-1.amazonaws.com"},
		{S3Config{Bucket: "b", Endpoint: "minio.local:9000"}, "https://minio.local:9000/b"},
		{S3Config{Bucket: "b", Endpoint: "http://localhost:9000/"}, "http://localhost:9000/b"},
		{S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com"},
	}
	for _, c := range cases {
		if got := publicBase(c.cfg); got != c.want {
			t.Errorf("publicBase(%+v) = %q, want %q", c.cfg, got, c.want)
		}
	}
}
