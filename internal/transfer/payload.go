package transfer

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const sniffLen = 3072

// Payload is a handle to the bytes of one upload. Size must be known up
// front; Open may only succeed once for spooled payloads.
type Payload interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

type BytesPayload struct {
	name string
	data []byte
}

func NewBytesPayload(name string, data []byte) *BytesPayload {
	return &BytesPayload{name: name, data: data}
}

func (p *BytesPayload) Name() string { return p.name }
func (p *BytesPayload) Size() int64  { return int64(len(p.data)) }

// Open returns a reader that also implements io.Seeker.
func (p *BytesPayload) Open() (io.ReadCloser, error) {
	return bytesFile{bytes.NewReader(p.data)}, nil
}

type bytesFile struct {
	*bytes.Reader
}

func (bytesFile) Close() error { return nil }

// FilePayload reads an upload from an afero filesystem.
type FilePayload struct {
	fs     afero.Fs
	path   string
	name   string
	size   int64
	remove bool
}

// NewFilePayload stats path on fs. The payload name is the base name of path.
func NewFilePayload(fs afero.Fs, p string) (*FilePayload, error) {
	info, err := fs.Stat(p)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", p)
	}
	if info.IsDir() {
		return nil, errors.Errorf("%s is a directory", p)
	}
	return &FilePayload{fs: fs, path: p, name: path.Base(info.Name()), size: info.Size()}, nil
}

// NewSpooledPayload wraps a temporary spool file. The file is deleted when
// the reader returned by Open is closed, or by Discard if it never is.
func NewSpooledPayload(fs afero.Fs, spoolPath, name string, size int64) *FilePayload {
	return &FilePayload{fs: fs, path: spoolPath, name: name, size: size, remove: true}
}

func (p *FilePayload) Name() string { return p.name }
func (p *FilePayload) Size() int64  { return p.size }
func (p *FilePayload) Path() string { return p.path }

func (p *FilePayload) Open() (io.ReadCloser, error) {
	f, err := p.fs.Open(p.path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", p.path)
	}
	if !p.remove {
		return f, nil
	}
	return &spoolFile{File: f, fs: p.fs, path: p.path}, nil
}

// Discard removes the spool file of a payload that will never be opened,
// e.g. one cancelled while still queued.
func (p *FilePayload) Discard() error {
	if !p.remove {
		return nil
	}
	if err := p.fs.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

type spoolFile struct {
	afero.File
	fs   afero.Fs
	path string
}

func (f *spoolFile) Close() error {
	err := f.File.Close()
	if rmErr := f.fs.Remove(f.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return errors.WithStack(err)
}

// Discarder is implemented by payloads holding resources that must be freed
// when the payload is dropped without being transferred.
type Discarder interface {
	Discard() error
}

// sniff detects the content type from the head of r. The returned reader
// yields the full stream including the peeked bytes.
func sniff(r io.Reader) (string, io.Reader) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	return mimetype.Detect(head).String(), br
}

// sniffSeeker detects the content type from the head of rs and rewinds it.
func sniffSeeker(rs io.ReadSeeker) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rs, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", errors.Wrap(err, "read head")
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", errors.Wrap(err, "rewind")
	}
	return mimetype.Detect(head[:n]).String(), nil
}
