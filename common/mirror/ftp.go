package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jlaffaye/ftp"
	"github.com/opendata-etl/publisher/common/config"
	"github.com/opendata-etl/publisher/common/logger"
)

// Common errors returned by the mirror client
var (
	// ErrAuth is returned when the FTP server rejects the credentials
	ErrAuth = errors.New("mirror credentials rejected")
	// ErrLocalMissing is returned when the local file to upload is gone
	ErrLocalMissing = errors.New("local file does not exist")
)

// Entry maps a remote file name to the local path it was downloaded to
type Entry struct {
	RemoteName string
	LocalPath  string
}

// Client ships local files to an FTP mirror and enumerates/pulls remote
// files. One connection per call, no pooling; jobs run serially.
type Client struct {
	cfg config.MirrorConfig
	log *logger.Logger
}

// New creates a new mirror client
func New(cfg config.MirrorConfig, log *logger.Logger) *Client {
	return &Client{
		cfg: cfg,
		log: log,
	}
}

// Upload stores the file at localPath under its basename inside remoteDir,
// creating intermediate remote directories as needed. Overwriting an
// existing remote file is permitted; no versioning is performed.
func (c *Client) Upload(ctx context.Context, localPath, remoteDir string) error {
	file, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrLocalMissing, localPath)
		}
		return fmt.Errorf("open local file: %w", err)
	}
	defer file.Close()

	c.log.Info("uploading to mirror",
		"local", localPath,
		"remote_dir", remoteDir,
	)

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	if err := ensureDir(conn, remoteDir); err != nil {
		return fmt.Errorf("ensure remote dir %s: %w", remoteDir, err)
	}

	name := filepath.Base(localPath)
	if err := conn.Stor(name, file); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}

	c.log.Info("upload complete",
		"remote", path.Join(remoteDir, name),
	)

	return nil
}

// Download lists remoteDir, filters names with a glob pattern, retrieves
// the matching files into localDir and returns the resulting mapping.
func (c *Client) Download(ctx context.Context, remoteDir, pattern, localDir string) ([]Entry, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	names, err := matchingFiles(conn, remoteDir, pattern)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create local dir: %w", err)
	}

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		localPath := localTarget(localDir, name)
		if err := c.retrieve(conn, path.Join(remoteDir, name), localPath); err != nil {
			return nil, err
		}
		entries = append(entries, Entry{RemoteName: name, LocalPath: localPath})
	}

	c.log.Info("download complete",
		"remote_dir", remoteDir,
		"pattern", pattern,
		"count", len(entries),
	)

	return entries, nil
}

// List returns the names in remoteDir matching a glob pattern without
// fetching any bytes. Used by jobs that discover which dates of data are
// available before committing to a transfer.
func (c *Client) List(ctx context.Context, remoteDir, pattern string) ([]string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	return matchingFiles(conn, remoteDir, pattern)
}

func (c *Client) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)

	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.DialTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("dial mirror %s: %w", addr, err)
	}

	if err := conn.Login(c.cfg.User, c.cfg.Password); err != nil {
		conn.Quit()
		var proto *textproto.Error
		if errors.As(err, &proto) && proto.Code == ftp.StatusNotLoggedIn {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, fmt.Errorf("login to mirror: %w", err)
	}

	return conn, nil
}

// ensureDir walks the directory components one at a time. A component that
// already exists is entered; a missing one is created first. Any other
// failure is fatal.
func ensureDir(conn *ftp.ServerConn, remoteDir string) error {
	for _, part := range splitDir(remoteDir) {
		if err := conn.ChangeDir(part); err == nil {
			continue
		}
		if err := conn.MakeDir(part); err != nil {
			return fmt.Errorf("create directory %s: %w", part, err)
		}
		if err := conn.ChangeDir(part); err != nil {
			return fmt.Errorf("enter directory %s: %w", part, err)
		}
	}
	return nil
}

func (c *Client) retrieve(conn *ftp.ServerConn, remotePath, localPath string) error {
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", remotePath, err)
	}
	defer resp.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp); err != nil {
		return fmt.Errorf("write %s: %w", localPath, err)
	}

	return nil
}

func matchingFiles(conn *ftp.ServerConn, remoteDir, pattern string) ([]string, error) {
	list, err := conn.List(remoteDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", remoteDir, err)
	}

	names := make([]string, 0, len(list))
	for _, entry := range list {
		if entry.Type != ftp.EntryTypeFile {
			continue
		}
		ok, err := matches(pattern, entry.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, entry.Name)
		}
	}

	return names, nil
}

// matches applies a glob pattern to a bare file name. An empty pattern
// matches everything.
func matches(pattern, name string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := path.Match(pattern, name)
	if err != nil {
		return false, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	return ok, nil
}

// localTarget keeps downloads inside localDir even when the server reports
// an entry name carrying path separators
func localTarget(localDir, name string) string {
	return filepath.Join(localDir, filepath.Base(name))
}

// splitDir breaks a remote directory path into its components
func splitDir(remoteDir string) []string {
	var parts []string
	for _, part := range strings.Split(remoteDir, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
