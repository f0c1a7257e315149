package bytecode

import (
	"bufio"
	"encoding/binary"
	"io"

	pkgerrors "github.com/pkg/errors"
)

// Magic identifies a cardinal compiled-bytecode file. Version is bumped
// whenever the (not yet designed) on-disk chunk layout changes.
const Magic = "#CARDINALBC"
const Version uint16 = 1

// ErrPersistenceUnsupported is returned by Load for every file, including
// ones WriteStub itself wrote. The concrete encoding of a Chunk's code,
// constants, and debug table is an open question spec.md defers (see
// DESIGN.md); only the two header fields the format has committed to are
// implemented so far.
var ErrPersistenceUnsupported = pkgerrors.New("cardinal: bytecode persistence format not implemented yet")

// WriteStub writes the persistence header: Magic followed by Version as a
// big-endian uint16. Used by `cardinal compile` to produce a file whose
// shape is stable even though Load can't yet read a chunk back out of it.
func WriteStub(w io.Writer) error {
	if _, err := io.WriteString(w, Magic); err != nil {
		return pkgerrors.WithStack(err)
	}
	return binary.Write(w, binary.BigEndian, Version)
}

// Load validates the header of a compiled-bytecode file and then reports
// that reading the chunk body isn't implemented yet. A short or
// mismatched header is reported as its own error rather than being
// folded into ErrPersistenceUnsupported, so a caller can distinguish
// "not a cardinal bytecode file" from "is one, but this build can't load
// it yet".
func Load(r io.Reader) (*Chunk, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, pkgerrors.Wrap(err, "cardinal: reading bytecode header")
	}
	if string(magic) != Magic {
		return nil, pkgerrors.Errorf("cardinal: not a cardinal bytecode file (bad magic %q)", magic)
	}
	var version uint16
	if err := binary.Read(br, binary.BigEndian, &version); err != nil {
		return nil, pkgerrors.Wrap(err, "cardinal: reading bytecode version")
	}
	return nil, ErrPersistenceUnsupported
}
