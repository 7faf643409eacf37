package persist

import (
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dCloud/rpc/codec"
	"github.com/spaolacci/murmur3"
	"io/fs"
	"os"
	"path/filepath"
)

// diskBackend stores one file per key. File names are the hex encoded 128 bit
// murmur3 hash of the key, spread over 256 sub directories. Every file holds the
// key, the data and a checksum:
//
//	[PutStr(key)][PutA1(data)][Put8(murmur3(key, data))]
type diskBackend struct {
	dir string
}

// NewDiskBackend creates a backend storing its files below dir
func NewDiskBackend(dir string) (IBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	Logger.Infof("Disk backend at %s", dir)
	return &diskBackend{dir: dir}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see IBackend)
// --------------------------------------------------------------------------

func (b *diskBackend) Name() string {
	return BackendDisk
}

func (b *diskBackend) Store(key string, data []byte) error {
	path := b.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	ab := codec.NewWriteBuffer(len(key) + len(data) + 16)
	ab.PutStr(key).PutA1(data).Put8(checksum(key, data))

	// replaced atomically
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, ab.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *diskBackend) Load(key string) ([]byte, error) {
	raw, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ab := codec.NewReadBuffer(raw)
	storedKey := ab.GetStr()
	data := ab.GetA1()
	sum := ab.Get8()
	if ab.Err() != nil {
		return nil, fmt.Errorf("persist: corrupt file for key %q: %w", key, ab.Err())
	}
	if storedKey != key {
		// hash collision with another key
		return nil, ErrNotFound
	}
	if sum != checksum(key, data) {
		return nil, fmt.Errorf("persist: checksum mismatch for key %q", key)
	}
	return data, nil
}

func (b *diskBackend) Delete(key string) error {
	err := os.Remove(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// path returns the file of key
func (b *diskBackend) path(key string) string {
	h1, h2 := murmur3.Sum128([]byte(key))
	var raw [16]byte
	for i := 0; i < 8; i++ {
		raw[i] = byte(h1 >> (56 - 8*i))
		raw[8+i] = byte(h2 >> (56 - 8*i))
	}
	name := hex.EncodeToString(raw[:])
	return filepath.Join(b.dir, name[:2], name)
}

// checksum hashes key and data
func checksum(key string, data []byte) uint64 {
	h := murmur3.New64()
	h.Write([]byte(key))
	h.Write(data)
	return h.Sum64()
}
