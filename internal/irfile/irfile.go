// Package irfile reads and writes IR programs as msgpack containers.
//
// A container is the magic "WGIR", a schema version and the msgpack-encoded
// program. Decoding rebuilds the interner indexes that are not serialized.
package irfile

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"wasmgen/internal/ir"
)

// SchemaVersion is bumped whenever the encoded ir types change shape.
const SchemaVersion uint16 = 1

// Ext is the conventional file extension of IR containers.
const Ext = ".irpk"

var magic = [4]byte{'W', 'G', 'I', 'R'}

var (
	// ErrNotContainer reports input that does not start with the magic.
	ErrNotContainer = errors.New("irfile: not an IR container")
	// ErrSchema reports a container written by an incompatible version.
	ErrSchema = errors.New("irfile: unsupported schema version")
)

// Digest is the SHA-256 of a container's bytes.
type Digest [32]byte

type header struct {
	Schema uint16 `msgpack:"schema"`
}

// Encode writes prog to w.
func Encode(w io.Writer, prog *ir.Program) error {
	if prog == nil {
		return errors.New("irfile: nil program")
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic[:]); err != nil {
		return err
	}
	enc := msgpack.NewEncoder(bw)
	enc.UseCompactInts(true)
	if err := enc.Encode(header{Schema: SchemaVersion}); err != nil {
		return fmt.Errorf("irfile: encode header: %w", err)
	}
	if err := enc.Encode(prog); err != nil {
		return fmt.Errorf("irfile: encode program: %w", err)
	}
	return bw.Flush()
}

// Decode reads a program written by Encode.
func Decode(r io.Reader) (*ir.Program, error) {
	br := bufio.NewReader(r)
	var got [4]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotContainer
		}
		return nil, err
	}
	if got != magic {
		return nil, ErrNotContainer
	}

	dec := msgpack.NewDecoder(br)
	var h header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("irfile: decode header: %w", err)
	}
	if h.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %d (want %d)", ErrSchema, h.Schema, SchemaVersion)
	}
	prog := new(ir.Program)
	if err := dec.Decode(prog); err != nil {
		return nil, fmt.Errorf("irfile: decode program: %w", err)
	}
	if prog.Interns == nil {
		prog.Interns = ir.NewInterns()
	}
	if prog.Layouts == nil {
		return nil, errors.New("irfile: program has no layout table")
	}
	prog.Layouts.Reindex()
	return prog, nil
}

// Marshal encodes prog into memory.
func Marshal(prog *ir.Program) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, prog); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a container held in memory.
func Unmarshal(data []byte) (*ir.Program, error) {
	return Decode(bytes.NewReader(data))
}

// ReadFile decodes the container at path and returns its digest.
func ReadFile(path string) (*ir.Program, Digest, error) {
	// #nosec G304 -- path is a user-supplied input file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Digest{}, err
	}
	prog, err := Unmarshal(data)
	if err != nil {
		return nil, Digest{}, fmt.Errorf("%s: %w", path, err)
	}
	return prog, sha256.Sum256(data), nil
}

// WriteFile encodes prog to path through a temporary file and a rename.
func WriteFile(path string, prog *ir.Program) error {
	data, err := Marshal(prog)
	if err != nil {
		return err
	}
	return WriteAtomic(path, data)
}

// WriteAtomic replaces path with data so readers never see a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
