package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SFTPConfig holds the clearinghouse mailbox connection settings
type SFTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	KeyFile  string `yaml:"key_file"`
	// KnownHostsFile pins the server key; InsecureIgnoreHostKey is for local test servers only
	KnownHostsFile        string        `yaml:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	RemoteDir             string        `yaml:"remote_dir"`
	Timeout               time.Duration `yaml:"timeout"`
}

// Validate checks the connection settings
func (c SFTPConfig) Validate() error {
	if c.Host == "" {
		return errors.New("sftp: host must be provided")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("sftp: invalid port %d", c.Port)
	}
	if c.Username == "" {
		return errors.New("sftp: username must be provided")
	}
	if c.Password == "" && c.KeyFile == "" {
		return errors.New("sftp: a password or key file is required")
	}
	if c.KnownHostsFile == "" && !c.InsecureIgnoreHostKey {
		return errors.New("sftp: known hosts file is required")
	}
	return nil
}

// SFTPUploader uploads claim files over SFTP. It opens one connection per upload.
type SFTPUploader struct {
	cfg    SFTPConfig
	logger *zap.Logger
}

// NewSFTPUploader creates an uploader for the given mailbox
func NewSFTPUploader(cfg SFTPConfig, logger *zap.Logger) (*SFTPUploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SFTPUploader{cfg: cfg, logger: logger}, nil
}

func (u *SFTPUploader) Upload(ctx context.Context, localPath, remoteFilename string) (*UploadResult, error) {
	start := time.Now()

	client, closeFn, err := u.connect(ctx)
	if err != nil {
		return nil, &UploadError{RemoteFilename: remoteFilename, Op: "connect", Cause: err}
	}
	defer closeFn()

	// Close the connection if the caller gives up mid-transfer
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeFn()
		case <-done:
		}
	}()

	remote, n, err := put(client, localPath, u.cfg.RemoteDir, remoteFilename)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, err
	}

	u.logger.Info("claim file uploaded",
		zap.String("host", u.cfg.Host),
		zap.String("remote_path", remote),
		zap.Int64("bytes", n),
		zap.Duration("duration", time.Since(start)),
	)
	return &UploadResult{RemotePath: remote, Bytes: n, Duration: time.Since(start)}, nil
}

func (u *SFTPUploader) connect(ctx context.Context) (*sftp.Client, func(), error) {
	auth, err := u.authMethods()
	if err != nil {
		return nil, nil, err
	}
	hostKey, err := u.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}

	addr := net.JoinHostPort(u.cfg.Host, strconv.Itoa(u.cfg.Port))
	dialer := net.Dialer{Timeout: u.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            u.cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         u.cfg.Timeout,
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("ssh handshake: %w", err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("sftp session: %w", err)
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			client.Close()
			sshClient.Close()
		})
	}
	return client, closeFn, nil
}

func (u *SFTPUploader) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if u.cfg.KeyFile != "" {
		pem, err := os.ReadFile(u.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if u.cfg.Password != "" {
		methods = append(methods, ssh.Password(u.cfg.Password))
	}
	return methods, nil
}

func (u *SFTPUploader) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if u.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(u.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		return cb, nil
	}
	u.logger.Warn("sftp host key verification disabled", zap.String("host", u.cfg.Host))
	return ssh.InsecureIgnoreHostKey(), nil
}

// put streams localPath to remoteDir/name through a temporary name so the
// clearinghouse never picks up a partial file.
func put(client *sftp.Client, localPath, remoteDir, name string) (string, int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", 0, &UploadError{RemoteFilename: name, Op: "open", Cause: err}
	}
	defer src.Close()

	if err := client.MkdirAll(remoteDir); err != nil {
		return "", 0, &UploadError{RemoteFilename: name, Op: "mkdir", Cause: err}
	}

	final := path.Join(remoteDir, path.Base(name))
	tmp := final + ".part"
	dst, err := client.Create(tmp)
	if err != nil {
		return "", 0, &UploadError{RemoteFilename: name, Op: "create", Cause: err}
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		client.Remove(tmp)
		return "", 0, &UploadError{RemoteFilename: name, Op: "write", Cause: err}
	}
	if err := client.Rename(tmp, final); err != nil {
		client.Remove(tmp)
		return "", 0, &UploadError{RemoteFilename: name, Op: "rename", Cause: err}
	}
	return final, n, nil
}
