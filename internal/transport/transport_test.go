package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/sftp"

	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

func writeLocal(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "837P_org-1_20261019_143005.edi")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestDirectoryUploader(t *testing.T) {
	local := writeLocal(t, "ISA*00\nIEA*1*000000001\n")
	dir := filepath.Join(t.TempDir(), "outbound")

	res, err := NewDirectoryUploader(dir).Upload(context.Background(), local, "837P_org-1_20261019_143005.edi")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.RemotePath != filepath.Join(dir, "837P_org-1_20261019_143005.edi") || res.Bytes != 23 {
		t.Errorf("unexpected result %+v", res)
	}
	if _, err := os.Stat(res.RemotePath + ".part"); !os.IsNotExist(err) {
		t.Error("temporary file must not remain")
	}
}

func TestDirectoryUploaderMissingSource(t *testing.T) {
	_, err := NewDirectoryUploader(t.TempDir()).Upload(context.Background(), "/nonexistent/file.edi", "file.edi")
	var uerr *UploadError
	if !errors.As(err, &uerr) || uerr.Op != "open" {
		t.Errorf("expected an open UploadError, got %v", err)
	}
}

func TestPutOverInMemorySFTP(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()
	defer server.Close()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	if err != nil {
		t.Fatalf("NewClientPipe: %v", err)
	}
	defer client.Close()

	content := "ST*837*0001*005010X222A1\nSE*2*0001\n"
	local := writeLocal(t, content)

	remote, n, err := put(client, local, "/inbound/claims", "837P_org-1_20261019_143005.edi")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if remote != "/inbound/claims/837P_org-1_20261019_143005.edi" || n != int64(len(content)) {
		t.Errorf("put = %q, %d", remote, n)
	}
	info, err := client.Stat(remote)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(len(content)) {
		t.Errorf("remote size = %d", info.Size())
	}
	if _, err := client.Stat(remote + ".part"); err == nil {
		t.Error("temporary remote file must be renamed away")
	}
}

func TestSFTPConfigValidate(t *testing.T) {
	valid := SFTPConfig{Host: "sftp.example.com", Port: 22, Username: "billing", Password: "secret", KnownHostsFile: "/etc/ssh/known_hosts"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tests := map[string]func(*SFTPConfig){
		"host":       func(c *SFTPConfig) { c.Host = "" },
		"port":       func(c *SFTPConfig) { c.Port = 0 },
		"username":   func(c *SFTPConfig) { c.Username = "" },
		"credential": func(c *SFTPConfig) { c.Password = "" },
		"host key":   func(c *SFTPConfig) { c.KnownHostsFile = "" },
	}
	for name, mutate := range tests {
		c := valid
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected a validation error", name)
		}
	}
}

type failingUploader struct{ calls int }

func (f *failingUploader) Upload(context.Context, string, string) (*UploadResult, error) {
	f.calls++
	return nil, errors.New("connection reset by peer")
}

func TestBreakerUploaderStopsCallingWhenOpen(t *testing.T) {
	cfg := circuitbreaker.ClearinghouseConfig()
	cfg.FailureThreshold = 2
	cb, err := circuitbreaker.New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	next := &failingUploader{}
	up := NewBreakerUploader(next, cb, nil)

	for i := 0; i < 4; i++ {
		if _, err := up.Upload(context.Background(), "a.edi", "a.edi"); err == nil {
			t.Fatal("expected an error")
		}
	}
	if next.calls != 2 {
		t.Errorf("expected the breaker to stop after 2 calls, got %d", next.calls)
	}
}
