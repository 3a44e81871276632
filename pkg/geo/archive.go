package geo

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/jdziat/geo-ingest/pkg/core"
	"github.com/jdziat/geo-ingest/pkg/security"
)

// MaxUnpackedSize bounds the bytes written by Unpack.
const MaxUnpackedSize int64 = 4 << 30

// ErrArchiveTooLarge is returned when extraction exceeds MaxUnpackedSize.
var ErrArchiveTooLarge = errors.New("archive expands beyond size limit")

type compression int

const (
	compressionNone compression = iota
	compressionZip
	compressionGzip
	compressionZstd
	compressionLZ4
	compressionTar
)

var magics = []struct {
	prefix []byte
	kind   compression
}{
	{[]byte("PK\x03\x04"), compressionZip},
	{[]byte{0x1f, 0x8b}, compressionGzip},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, compressionZstd},
	{[]byte{0x04, 0x22, 0x4d, 0x18}, compressionLZ4},
}

// sniff reads the leading bytes of path to find its container format.
func sniff(path string) (compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return compressionNone, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return compressionNone, err
	}
	head = head[:n]
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return m.kind, nil
		}
	}
	if isTar(head) {
		return compressionTar, nil
	}
	return compressionNone, nil
}

func isTar(head []byte) bool {
	return len(head) >= 262 && bytes.Equal(head[257:262], []byte("ustar"))
}

// Unpack extracts the archive at src into dst and reports whether src was
// an archive at all. Zip, tar and tar or single files compressed with
// gzip, zstd or lz4 are recognised by their magic bytes. Entries that
// would land outside dst are rejected.
func Unpack(src, dst string) (bool, error) {
	kind, err := sniff(src)
	if err != nil {
		return false, err
	}
	if kind == compressionNone {
		return false, nil
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return true, err
	}

	budget := &limit{remaining: MaxUnpackedSize}
	switch kind {
	case compressionZip:
		err = unzip(src, dst, budget)
	case compressionTar:
		err = untarFile(src, dst, budget, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		})
	case compressionGzip:
		err = untarFile(src, dst, budget, func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		})
	case compressionZstd:
		err = untarFile(src, dst, budget, func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		})
	case compressionLZ4:
		err = untarFile(src, dst, budget, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		})
	}
	if err != nil {
		return true, &core.FormatError{Path: src, Err: err}
	}
	return true, nil
}

type limit struct {
	remaining int64
}

// copy writes r to path, charging the bytes against the limit.
func (l *limit) copy(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(r, l.remaining+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	l.remaining -= n
	if l.remaining < 0 {
		return ErrArchiveTooLarge
	}
	return nil
}

func unzip(src, dst string, budget *limit) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := security.SafeJoin(dst, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = budget.copy(target, rc, 0o644)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// untarFile decompresses src and extracts it as a tar stream, or writes the
// decompressed bytes as one file when the payload is not a tar.
func untarFile(src, dst string, budget *limit, open func(io.Reader) (io.ReadCloser, error)) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	rc, err := open(f)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 1024)
	head, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return err
	}
	if !isTar(head) {
		name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		return budget.copy(filepath.Join(dst, name), br, 0o644)
	}

	tr := tar.NewReader(br)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := security.SafeJoin(dst, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := budget.copy(target, tr, 0o644); err != nil {
				return err
			}
		}
	}
}
