package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"golang.org/x/time/rate"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/output"
)

// ftpChunkSize is the transfer buffer for RETR.
const ftpChunkSize = 1024

var _ output.RemoteSource = (*FTPSource)(nil)

// ftpConn is the subset of *ftp.ServerConn the source uses.
type ftpConn interface {
	Login(user, password string) error
	List(path string) ([]*ftp.Entry, error)
	NameList(path string) ([]string, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

// serverConn adapts *ftp.ServerConn to ftpConn.
type serverConn struct {
	*ftp.ServerConn
}

func (c serverConn) Retr(p string) (io.ReadCloser, error) {
	r, err := c.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// FTPSource implements RemoteSource for an FTP server. One control
// connection is opened on first use and kept until Close.
type FTPSource struct {
	cfg     FTPConfig
	dial    func(ctx context.Context) (ftpConn, error)
	conn    ftpConn
	limiter *rate.Limiter
	logger  *slog.Logger
}

// FTPConfig holds FTP source configuration.
type FTPConfig struct {
	Addr     string // host:port
	Username string // empty selects anonymous login
	Password string
	Timeout  time.Duration
	Rate     float64
	Burst    int
}

// NewFTPSource creates a new FTP source adapter.
func NewFTPSource(cfg FTPConfig, logger *slog.Logger) *FTPSource {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Username == "" {
		cfg.Username = "anonymous"
		if cfg.Password == "" {
			cfg.Password = "anonymous"
		}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if !strings.Contains(cfg.Addr, ":") {
		cfg.Addr += ":21"
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	s := &FTPSource{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
	}
	s.dial = func(ctx context.Context) (ftpConn, error) {
		c, err := ftp.Dial(cfg.Addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(cfg.Timeout))
		if err != nil {
			return nil, err
		}
		return serverConn{c}, nil
	}
	return s
}

// session returns the logged-in control connection, dialing on first use.
func (s *FTPSource) session(ctx context.Context) (ftpConn, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	c, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnection, s.cfg.Addr, err)
	}
	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		_ = c.Quit()
		return nil, fmt.Errorf("%w: %s as %s: %v", domain.ErrAuth, s.cfg.Addr, s.cfg.Username, err)
	}
	s.logger.Debug("ftp session opened", "addr", s.cfg.Addr, "user", s.cfg.Username)
	s.conn = c
	return c, nil
}

// List lists the locator directory and keeps names matching the glob
// pattern, in server order.
func (s *FTPSource) List(ctx context.Context, loc domain.Locator) ([]domain.RemoteEntry, error) {
	if _, err := path.Match(loc.Pattern, ""); err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: fmt.Errorf("%w: pattern: %v", domain.ErrInvalidInput, err)}
	}
	c, err := s.session(ctx)
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: err}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}

	listing, err := c.List(loc.ListPath)
	if err != nil {
		return nil, &domain.FetchError{Operation: "list", Name: loc.ListPath, Err: classifyFTPErr(err)}
	}

	prefix := loc.FetchPrefix
	if prefix == "" {
		prefix = loc.ListPath
	}
	var entries []domain.RemoteEntry
	for _, e := range listing {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		name := lastToken(e.Name)
		if ok, _ := path.Match(loc.Pattern, name); !ok {
			continue
		}
		entry := domain.NewRemoteEntry(name, path.Join(prefix, name))
		entry.RawLine = fmt.Sprintf("%d %s %s", e.Size, e.Time.Format(time.DateTime), e.Name)
		entries = append(entries, entry)
	}
	return entries, nil
}

func lastToken(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return s
	}
	return f[len(f)-1]
}

// Fetch retrieves an entry in binary mode, copying it to w in fixed chunks.
func (s *FTPSource) Fetch(ctx context.Context, entry domain.RemoteEntry, w io.Writer) (int64, error) {
	c, err := s.session(ctx)
	if err != nil {
		return 0, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: err}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}

	resp, err := c.Retr(entry.Location)
	if err != nil {
		return 0, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: classifyFTPErr(err)}
	}

	n, copyErr := io.CopyBuffer(struct{ io.Writer }{w}, struct{ io.Reader }{resp}, make([]byte, ftpChunkSize))
	closeErr := resp.Close()
	if copyErr != nil {
		return n, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: fmt.Errorf("%w: %v", domain.ErrTransport, copyErr)}
	}
	if closeErr != nil {
		return n, &domain.FetchError{Operation: "fetch", Name: entry.Name, Err: classifyFTPErr(closeErr)}
	}
	return n, nil
}

// Exists lists the entry's parent directory with NLST. A permission or
// "file unavailable" reply means the entry does not exist.
func (s *FTPSource) Exists(ctx context.Context, entry domain.RemoteEntry) (bool, error) {
	c, err := s.session(ctx)
	if err != nil {
		return false, &domain.FetchError{Operation: "exists", Name: entry.Name, Err: err}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return false, &domain.FetchError{Operation: "exists", Name: entry.Name, Err: fmt.Errorf("%w: %v", domain.ErrTransport, err)}
	}

	names, err := c.NameList(path.Dir(entry.Location))
	if err != nil {
		if isPermanent(err) {
			return false, nil
		}
		return false, &domain.FetchError{Operation: "exists", Name: entry.Name, Err: classifyFTPErr(err)}
	}
	want := path.Base(entry.Location)
	for _, n := range names {
		if path.Base(n) == want {
			return true, nil
		}
	}
	return false, nil
}

// Close quits the session if one is open.
func (s *FTPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Quit()
	s.conn = nil
	return err
}

// isPermanent reports a 5xx reply; the server refuses the path.
func isPermanent(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500 && tpErr.Code < 600
}

func classifyFTPErr(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusFileUnavailable:
			return fmt.Errorf("%w: %v", domain.ErrRemoteFileNotFound, err)
		case ftp.StatusNotLoggedIn:
			return fmt.Errorf("%w: %v", domain.ErrAuth, err)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}
