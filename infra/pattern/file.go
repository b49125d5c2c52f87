package pattern

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"shmpool/domain/usage"
)

// file frame:
//
//	[magic:4][version:2][entries:4]
//	[size:8][count:8][crc:4] x entries
const (
	fileMagic   = "SHMP"
	fileVersion = 1
	headerLen   = 4 + 2 + 4
	entryLen    = 8 + 8 + 4
)

// ErrCorrupt reports a pattern file that fails validation.
var ErrCorrupt = errors.New("pattern: corrupt file")

// File stores a pattern in a single file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Save replaces the file with p.
func (f *File) Save(p usage.Pattern) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "pattern: create temp file")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := encode(w, p); err != nil {
		tmp.Close()
		return errors.Wrap(err, "pattern: write")
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "pattern: flush")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "pattern: sync")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "pattern: close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "pattern: rename")
}

// Load reads the stored pattern. A missing file is not an error.
func (f *File) Load() (usage.Pattern, bool, error) {
	fh, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "pattern: open")
	}
	defer fh.Close()

	p, err := decode(bufio.NewReader(fh))
	if err != nil {
		return nil, false, errors.Wrapf(err, "pattern: %s", f.path)
	}
	return p, true, nil
}

func encode(w io.Writer, p usage.Pattern) error {
	var hdr [headerLen]byte
	copy(hdr[0:4], fileMagic)
	binary.BigEndian.PutUint16(hdr[4:6], fileVersion)
	binary.BigEndian.PutUint32(hdr[6:10], uint32(len(p)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	var buf [entryLen]byte
	for _, e := range p {
		binary.BigEndian.PutUint64(buf[0:8], e.Size)
		binary.BigEndian.PutUint64(buf[8:16], e.Count)
		binary.BigEndian.PutUint32(buf[16:20], crc32.ChecksumIEEE(buf[:16]))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func decode(r io.Reader) (usage.Pattern, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "short header")
	}
	if string(hdr[0:4]) != fileMagic {
		return nil, errors.Wrap(ErrCorrupt, "bad magic")
	}
	if v := binary.BigEndian.Uint16(hdr[4:6]); v != fileVersion {
		return nil, errors.Wrapf(ErrCorrupt, "version %d", v)
	}
	n := binary.BigEndian.Uint32(hdr[6:10])
	if n > usage.Classes {
		return nil, errors.Wrapf(ErrCorrupt, "%d entries", n)
	}

	p := make(usage.Pattern, 0, n)
	var buf [entryLen]byte
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "entry %d truncated", i)
		}
		if crc32.ChecksumIEEE(buf[:16]) != binary.BigEndian.Uint32(buf[16:20]) {
			return nil, errors.Wrapf(ErrCorrupt, "entry %d checksum", i)
		}
		p = append(p, usage.Entry{
			Size:  binary.BigEndian.Uint64(buf[0:8]),
			Count: binary.BigEndian.Uint64(buf[8:16]),
		})
	}
	return p, nil
}
