package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/jobrunner/spacefetch/internal/domain"
)

type fakeFTP struct {
	loginErr error
	dirs     map[string][]*ftp.Entry
	files    map[string]string
	nlstErr  error
	quits    int
	retrs    []string
}

func (f *fakeFTP) Login(user, password string) error { return f.loginErr }

func (f *fakeFTP) List(p string) ([]*ftp.Entry, error) {
	entries, ok := f.dirs[p]
	if !ok {
		return nil, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "no such directory"}
	}
	return entries, nil
}

func (f *fakeFTP) NameList(p string) ([]string, error) {
	if f.nlstErr != nil {
		return nil, f.nlstErr
	}
	var names []string
	for _, e := range f.dirs[p] {
		names = append(names, p+"/"+e.Name)
	}
	return names, nil
}

func (f *fakeFTP) Retr(p string) (io.ReadCloser, error) {
	f.retrs = append(f.retrs, p)
	data, ok := f.files[p]
	if !ok {
		return nil, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "no such file"}
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func (f *fakeFTP) Quit() error {
	f.quits++
	return nil
}

func newTestFTP(conn *fakeFTP) (*FTPSource, *int) {
	s := NewFTPSource(FTPConfig{Addr: "ftp.example.org"}, testLogger())
	dials := 0
	s.dial = func(ctx context.Context) (ftpConn, error) {
		dials++
		return conn, nil
	}
	return s, &dials
}

func aceDir() *fakeFTP {
	mk := func(name string) *ftp.Entry {
		return &ftp.Entry{Name: name, Type: ftp.EntryTypeFile, Size: 10, Time: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)}
	}
	return &fakeFTP{
		dirs: map[string][]*ftp.Entry{
			"/pub/lists/ace": {
				mk("20220101_ace_swepam_1h.txt"),
				mk("20220101_ace_mag_1h.txt"),
				{Name: "old", Type: ftp.EntryTypeFolder},
				mk("20220102_ace_swepam_1h.txt"),
			},
		},
		files: map[string]string{
			"/pub/lists/ace/20220101_ace_swepam_1h.txt": strings.Repeat("x", 3000),
		},
	}
}

func TestFTPSourceListGlob(t *testing.T) {
	conn := aceDir()
	s, dials := newTestFTP(conn)

	entries, err := s.List(context.Background(), domain.Locator{ListPath: "/pub/lists/ace", Pattern: "*_ace_swepam_1h.txt"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Name != "20220101_ace_swepam_1h.txt" || entries[0].Location != "/pub/lists/ace/20220101_ace_swepam_1h.txt" {
		t.Errorf("entries[0] = %+v", entries[0])
	}

	// The session is reused.
	if _, err := s.List(context.Background(), domain.Locator{ListPath: "/pub/lists/ace", Pattern: "*"}); err != nil {
		t.Fatal(err)
	}
	if *dials != 1 {
		t.Errorf("dials = %d, want 1", *dials)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if conn.quits != 1 {
		t.Errorf("quits = %d, want 1", conn.quits)
	}
}

func TestFTPSourceFetch(t *testing.T) {
	conn := aceDir()
	s, _ := newTestFTP(conn)

	var buf bytes.Buffer
	n, err := s.Fetch(context.Background(), domain.RemoteEntry{
		Name:     "20220101_ace_swepam_1h.txt",
		Location: "/pub/lists/ace/20220101_ace_swepam_1h.txt",
	}, &buf)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n != 3000 || buf.Len() != 3000 {
		t.Errorf("Fetch() copied %d bytes, buffer %d", n, buf.Len())
	}

	_, err = s.Fetch(context.Background(), domain.RemoteEntry{Name: "gone", Location: "/pub/gone"}, &buf)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Fetch(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFTPSourceExists(t *testing.T) {
	conn := aceDir()
	s, _ := newTestFTP(conn)
	ctx := context.Background()

	ok, err := s.Exists(ctx, domain.RemoteEntry{Location: "/pub/lists/ace/20220102_ace_swepam_1h.txt"})
	if err != nil || !ok {
		t.Errorf("Exists(present) = %v, %v", ok, err)
	}
	ok, err = s.Exists(ctx, domain.RemoteEntry{Location: "/pub/lists/ace/20991231_ace_swepam_1h.txt"})
	if err != nil || ok {
		t.Errorf("Exists(absent) = %v, %v", ok, err)
	}

	conn.nlstErr = &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "permission denied"}
	ok, err = s.Exists(ctx, domain.RemoteEntry{Location: "/product/ionex/2022/001/uqrg0010.22i.Z"})
	if err != nil || ok {
		t.Errorf("Exists(denied) = %v, %v; want false, nil", ok, err)
	}

	conn.nlstErr = errors.New("connection reset")
	if _, err := s.Exists(ctx, domain.RemoteEntry{Location: "/x/y"}); !errors.Is(err, domain.ErrTransport) {
		t.Errorf("Exists(reset) error = %v, want ErrTransport", err)
	}
}

func TestFTPSourceSessionErrors(t *testing.T) {
	s := NewFTPSource(FTPConfig{Addr: "ftp.example.org:2121"}, testLogger())
	s.dial = func(ctx context.Context) (ftpConn, error) {
		return nil, errors.New("dial tcp: refused")
	}
	_, err := s.List(context.Background(), domain.Locator{ListPath: "/", Pattern: "*"})
	if !errors.Is(err, domain.ErrConnection) || !domain.IsFatal(err) {
		t.Errorf("List() error = %v, want fatal ErrConnection", err)
	}

	conn := &fakeFTP{loginErr: &textproto.Error{Code: ftp.StatusNotLoggedIn, Msg: "login incorrect"}}
	s2, _ := newTestFTP(conn)
	_, err = s2.List(context.Background(), domain.Locator{ListPath: "/", Pattern: "*"})
	if !errors.Is(err, domain.ErrAuth) {
		t.Errorf("List() error = %v, want ErrAuth", err)
	}
	if conn.quits != 1 {
		t.Errorf("failed login did not quit the connection")
	}
}

func TestNewFTPSourceDefaults(t *testing.T) {
	s := NewFTPSource(FTPConfig{Addr: "ftp.swpc.noaa.gov"}, testLogger())
	if s.cfg.Addr != "ftp.swpc.noaa.gov:21" {
		t.Errorf("Addr = %q", s.cfg.Addr)
	}
	if s.cfg.Username != "anonymous" {
		t.Errorf("Username = %q, want anonymous", s.cfg.Username)
	}
}
