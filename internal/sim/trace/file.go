package trace

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	Ext     = ".nbt"
	ZstdExt = ".nbt.zst"
)

// ReadFile returns the raw trace bytes, decompressing .nbt.zst files.
func ReadFile(path string) ([]byte, error) {
	if !strings.HasSuffix(path, Ext) && !strings.HasSuffix(path, ZstdExt) {
		return nil, fmt.Errorf("unrecognized trace filename extension: %s", filepath.Base(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if !strings.HasSuffix(path, ZstdExt) {
		return io.ReadAll(f)
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

// Load reads and fully decodes a trace file.
func Load(path string) ([]Instruction, error) {
	b, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	ins, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return ins, nil
}

// WriteFile encodes ins to path, compressing when path ends in .nbt.zst.
func WriteFile(path string, ins []Instruction) error {
	data, err := Encode(ins)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if !strings.HasSuffix(path, ZstdExt) {
		return os.WriteFile(path, data, 0o644)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
