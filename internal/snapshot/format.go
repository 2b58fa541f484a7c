package snapshot

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// File layout:
//
//	"BKTSNAP1"
//	repeated: uvarint len, key | uvarint len, type name | uvarint version | uvarint len, value
//	big-endian CRC-32 (IEEE) of everything above
var magic = []byte("BKTSNAP1")

const maxFieldLen = 1 << 20

// ErrCorruptSnapshot is returned when a snapshot file fails its structural
// or checksum checks. Nothing from such a file is restored.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Record is one stored key as it appears in a snapshot.
type Record struct {
	Key             string
	Type            string
	EncodingVersion int
	Value           []byte
}

// Encode writes records in snapshot format.
func Encode(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	crc := crc32.NewIEEE()
	out := io.MultiWriter(bw, crc)

	if _, err := out.Write(magic); err != nil {
		return err
	}

	var scratch [binary.MaxVarintLen64]byte
	writeUvarint := func(v uint64) error {
		n := binary.PutUvarint(scratch[:], v)
		_, err := out.Write(scratch[:n])
		return err
	}
	writeBytes := func(b []byte) error {
		if err := writeUvarint(uint64(len(b))); err != nil {
			return err
		}
		_, err := out.Write(b)
		return err
	}

	for _, r := range records {
		if err := writeBytes([]byte(r.Key)); err != nil {
			return err
		}
		if err := writeBytes([]byte(r.Type)); err != nil {
			return err
		}
		if err := writeUvarint(uint64(r.EncodingVersion)); err != nil {
			return err
		}
		if err := writeBytes(r.Value); err != nil {
			return err
		}
	}

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	if _, err := bw.Write(sum[:]); err != nil {
		return err
	}
	return bw.Flush()
}

// Decode reads a whole snapshot and verifies its checksum.
func Decode(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(magic)+4 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptSnapshot)
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(trailer) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	br := bytes.NewReader(body[len(magic):])
	readBytes := func() ([]byte, error) {
		n, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, err
		}
		if n > maxFieldLen || n > uint64(br.Len()) {
			return nil, fmt.Errorf("field length %d out of range", n)
		}
		buf := make([]byte, n)
		_, err = io.ReadFull(br, buf)
		return buf, err
	}

	var records []Record
	for br.Len() > 0 {
		key, err := readBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d key: %v", ErrCorruptSnapshot, len(records), err)
		}
		typ, err := readBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d type: %v", ErrCorruptSnapshot, len(records), err)
		}
		version, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d version: %v", ErrCorruptSnapshot, len(records), err)
		}
		value, err := readBytes()
		if err != nil {
			return nil, fmt.Errorf("%w: record %d value: %v", ErrCorruptSnapshot, len(records), err)
		}
		records = append(records, Record{
			Key:             string(key),
			Type:            string(typ),
			EncodingVersion: int(version),
			Value:           value,
		})
	}
	return records, nil
}

// ReadFile decodes the snapshot at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
