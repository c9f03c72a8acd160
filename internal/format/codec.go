// Package format implements the on-disk record codec for the append log.
// Records are stored in a binary format with CRC checksums for data integrity.
//
// A record is the logical unit of persistence: a command (Set or Remove), a
// key, and an optional value. Encode produces the frame *body* — the bytes
// that follow the 4-byte big-endian length prefix the engine package writes
// around it. The encoding is deterministic: the same Record always produces
// byte-identical output, which is what lets AppendLog.Load rebuild its index
// by replaying a file written by a different process invocation.
package format

import (
	"encoding/binary"
	"hash/crc32"
	"log/slog"

	"github.com/pkg/errors"
)

// Cmd is the tagged command a Record carries.
type Cmd uint8

const (
	// Set stores Key to Val; Val must be present.
	Set Cmd = 0
	// Remove deletes Key from the index; Val must be absent.
	Remove Cmd = 1
)

func (c Cmd) String() string {
	switch c {
	case Set:
		return "Set"
	case Remove:
		return "Remove"
	default:
		return "Unknown"
	}
}

// ErrCorruption is returned when a frame body fails to decode: a truncated
// write, a bit flip, or a length field that overruns the buffer.
var ErrCorruption = errors.New("format: corrupted record")

// Record is a single log entry: a command plus its key and optional value.
type Record struct {
	Cmd Cmd
	Key []byte
	Val []byte // nil iff Cmd == Remove
}

// Body layout:
//
//	crc:u32_le | cmd:u8 | keylen:u64_le | key | valflag:u8 | [vallen:u64_le | val]
const (
	crcSize     = 4
	cmdSize     = 1
	lenFieldSz  = 8
	valFlagSize = 1

	fixedHeaderSize = crcSize + cmdSize + lenFieldSz // through end of keylen
)

// Encode serializes r into a frame body. The returned slice does not include
// the 4-byte frame length prefix; the caller (engine.AppendLog) writes that
// separately once it knows the body's length.
func (r *Record) Encode() []byte {
	hasVal := r.Val != nil
	size := fixedHeaderSize + len(r.Key) + valFlagSize
	if hasVal {
		size += lenFieldSz + len(r.Val)
	}

	buf := make([]byte, size)
	off := crcSize
	buf[off] = byte(r.Cmd)
	off += cmdSize
	binary.LittleEndian.PutUint64(buf[off:off+lenFieldSz], uint64(len(r.Key)))
	off += lenFieldSz
	copy(buf[off:off+len(r.Key)], r.Key)
	off += len(r.Key)

	if hasVal {
		buf[off] = 1
		off += valFlagSize
		binary.LittleEndian.PutUint64(buf[off:off+lenFieldSz], uint64(len(r.Val)))
		off += lenFieldSz
		copy(buf[off:off+len(r.Val)], r.Val)
	} else {
		buf[off] = 0
	}

	crc := crc32.ChecksumIEEE(buf[crcSize:])
	binary.LittleEndian.PutUint32(buf[0:crcSize], crc)
	return buf
}

// Decode parses a frame body produced by Encode. It returns an error
// wrapping ErrCorruption if the body is too short, declares a length that
// overruns the buffer, or fails its CRC check.
func Decode(body []byte) (*Record, error) {
	if len(body) < fixedHeaderSize+valFlagSize {
		return nil, errors.Wrap(ErrCorruption, "body shorter than minimum header")
	}

	storedCRC := binary.LittleEndian.Uint32(body[0:crcSize])
	calcCRC := crc32.ChecksumIEEE(body[crcSize:])
	if storedCRC != calcCRC {
		return nil, errors.Wrapf(ErrCorruption, "crc mismatch: stored %d calculated %d", storedCRC, calcCRC)
	}

	off := crcSize
	cmd := Cmd(body[off])
	off += cmdSize

	keyLen, err := readLenField(body, off)
	if err != nil {
		return nil, err
	}
	off += lenFieldSz

	if uint64(len(body)-off) < keyLen {
		return nil, errors.Wrap(ErrCorruption, "key length overruns body")
	}
	key := make([]byte, keyLen)
	copy(key, body[off:off+int(keyLen)])
	off += int(keyLen)

	if off >= len(body) {
		return nil, errors.Wrap(ErrCorruption, "missing value-present flag")
	}
	valFlag := body[off]
	off += valFlagSize

	var val []byte
	switch valFlag {
	case 1:
		valLen, err := readLenField(body, off)
		if err != nil {
			return nil, err
		}
		off += lenFieldSz

		if uint64(len(body)-off) < valLen {
			return nil, errors.Wrap(ErrCorruption, "value length overruns body")
		}
		val = make([]byte, valLen)
		copy(val, body[off:off+int(valLen)])
		off += int(valLen)
	case 0:
		// val stays nil
	default:
		return nil, errors.Wrapf(ErrCorruption, "invalid value-present flag %d", valFlag)
	}

	rec := &Record{Cmd: cmd, Key: key, Val: val}
	if rec.Cmd == Remove {
		slog.Debug("format: decoded tombstone record", "key", string(rec.Key))
	}
	return rec, nil
}

func readLenField(body []byte, off int) (uint64, error) {
	if off+lenFieldSz > len(body) {
		return 0, errors.Wrap(ErrCorruption, "truncated length field")
	}
	return binary.LittleEndian.Uint64(body[off : off+lenFieldSz]), nil
}
