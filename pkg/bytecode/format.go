// Binary container format for compiled templates.
//
// The container allows a built Template to be persisted and later loaded
// without the front-end that produced it. The layout is little-endian:
//
//   [Header]
//     Magic (4 bytes): 52231103
//     Version (4 bytes): format version (currently 1)
//     Flags (4 bytes): reserved, 0
//     Fingerprint (20 bytes): blake2b-160 hash of the body; all zero
//       means "no fingerprint" and skips verification
//
//   [Constants Section]
//     Count (4 bytes), then per constant: id (4 bytes) + codec-encoded value
//
//   [Calls Section]
//     Count (4 bytes), then per call: name (4-byte length + UTF-8) + id (4 bytes)
//
//   [Instructions Section]
//     Count (4 bytes), then per instruction: fixed 25-byte record
//
//   [Bindings Capacity]
//     4 bytes
//
// Constants are value-typed, so their encoding is delegated to a
// caller-supplied ValueCodec. Sections with map contents are written in
// sorted order so the same template always produces the same bytes (and
// the same fingerprint).
package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Container format constants.
const (
	// Magic is the container file signature (0x031CFBBF).
	Magic uint32 = 52231103

	// FormatVersion is the current container format version.
	FormatVersion uint32 = 1

	// FingerprintSize is the width of the body content hash.
	FingerprintSize = 20

	formatFlags uint32 = 0
)

// Container format errors.
var (
	ErrBadMagic       = errors.New("invalid magic number")
	ErrBadVersion     = errors.New("unsupported container version")
	ErrBadFingerprint = errors.New("fingerprint mismatch")
)

// Header is the container file header.
type Header struct {
	Version     uint32
	Flags       uint32
	Fingerprint [FingerprintSize]byte
}

// ValueCodec serializes the engine's value type. The engine is generic
// over values, so the container cannot know their encoding; hosts supply
// one (pkg/values ships a codec for its value type).
type ValueCodec[V any] interface {
	EncodeValue(w io.Writer, v V) error
	DecodeValue(r io.Reader) (V, error)
}

// EncodeHeader writes the header, magic first.
func EncodeHeader(w io.Writer, h *Header) error {
	if err := binary.Write(w, binary.LittleEndian, Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.Flags); err != nil {
		return err
	}
	_, err := w.Write(h.Fingerprint[:])
	return err
}

// DecodeHeader reads and validates the header. A wrong magic number means
// the reader is not looking at a template container.
func DecodeHeader(r io.Reader) (*Header, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08X (expected 0x%08X)", ErrBadMagic, magic, Magic)
	}

	h := &Header{}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Flags); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, h.Fingerprint[:]); err != nil {
		return nil, err
	}
	return h, nil
}

// Encode serializes a template to the container format, stamping the
// header with the blake2b-160 fingerprint of the body.
func Encode[V any](t *Template[V], codec ValueCodec[V], w io.Writer) error {
	var body bytes.Buffer

	if err := writeConstants(&body, t.Constants, codec); err != nil {
		return fmt.Errorf("failed to write constants: %w", err)
	}
	if err := writeCalls(&body, t.CallNames); err != nil {
		return fmt.Errorf("failed to write calls: %w", err)
	}
	if err := writeInstructions(&body, t.Instructions); err != nil {
		return fmt.Errorf("failed to write instructions: %w", err)
	}
	if err := binary.Write(&body, binary.LittleEndian, t.BindingsCapacity); err != nil {
		return fmt.Errorf("failed to write bindings capacity: %w", err)
	}

	h := &Header{Version: FormatVersion, Flags: formatFlags, Fingerprint: Fingerprint(body.Bytes())}
	if err := EncodeHeader(w, h); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	_, err := w.Write(body.Bytes())
	return err
}

// Decode reads a container back into a template. The header is returned
// alongside so callers can pick up the fingerprint. A non-zero header
// fingerprint is verified against the body.
func Decode[V any](r io.Reader, codec ValueCodec[V]) (*Template[V], *Header, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if h.Version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d (expected %d)", ErrBadVersion, h.Version, FormatVersion)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", err)
	}
	if h.Fingerprint != ([FingerprintSize]byte{}) && Fingerprint(body) != h.Fingerprint {
		return nil, nil, ErrBadFingerprint
	}

	br := bytes.NewReader(body)
	t := Empty[V]()
	if err := readConstants(br, t, codec); err != nil {
		return nil, nil, fmt.Errorf("failed to read constants: %w", err)
	}
	if err := readCalls(br, t); err != nil {
		return nil, nil, fmt.Errorf("failed to read calls: %w", err)
	}
	if t.Instructions, err = readInstructions(br); err != nil {
		return nil, nil, fmt.Errorf("failed to read instructions: %w", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &t.BindingsCapacity); err != nil {
		return nil, nil, fmt.Errorf("failed to read bindings capacity: %w", err)
	}
	return t, h, nil
}

// Fingerprint hashes container body bytes with blake2b-160.
func Fingerprint(body []byte) [FingerprintSize]byte {
	var fp [FingerprintSize]byte
	h, err := blake2b.New(FingerprintSize, nil)
	if err != nil {
		// blake2b only fails on bad key/size arguments; ours are fixed.
		panic(err)
	}
	h.Write(body)
	copy(fp[:], h.Sum(nil))
	return fp
}

func writeConstants[V any](w io.Writer, constants map[Constant]V, codec ValueCodec[V]) error {
	ids := make([]Constant, 0, len(constants))
	for id := range constants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
		return err
	}
	for _, id := range ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(id)); err != nil {
			return err
		}
		if err := codec.EncodeValue(w, constants[id]); err != nil {
			return fmt.Errorf("constant %s: %w", id, err)
		}
	}
	return nil
}

func readConstants[V any](r io.Reader, t *Template[V], codec ValueCodec[V]) error {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		var id uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return err
		}
		value, err := codec.DecodeValue(r)
		if err != nil {
			return fmt.Errorf("constant %s: %w", Constant(id), err)
		}
		t.Constants[Constant(id)] = value
	}
	return nil
}

func writeCalls(w io.Writer, calls map[string]Call) error {
	names := make([]string, 0, len(calls))
	for name := range calls {
		names = append(names, name)
	}
	sort.Strings(names)

	if err := binary.Write(w, binary.LittleEndian, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(calls[name])); err != nil {
			return err
		}
	}
	return nil
}

func readCalls[V any](r io.Reader, t *Template[V]) error {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return err
		}
		var id uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return err
		}
		t.CallNames[name] = Call(id)
	}
	return nil
}

// instructionRecord is the fixed-width wire form of an Instruction.
type instructionRecord struct {
	Op         uint8
	MemKind    uint8
	MemConst   uint32
	MemBinding uint32
	Binding    uint32
	Times      uint16
	PC         uint16
	Cond       uint8
	Call       uint32
	Argc       uint8
	Push       uint8
}

func writeInstructions(w io.Writer, ins []Instruction) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ins))); err != nil {
		return err
	}
	for i, in := range ins {
		rec := instructionRecord{
			Op:         uint8(in.Op),
			MemKind:    uint8(in.Mem.Kind),
			MemConst:   uint32(in.Mem.Const),
			MemBinding: uint32(in.Mem.Binding),
			Binding:    uint32(in.Binding),
			Times:      in.Times,
			PC:         in.PC,
			Cond:       uint8(in.Cond),
			Call:       uint32(in.Call),
		}
		rec.Argc = in.Argc
		if in.PushResult {
			rec.Push = 1
		}
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return nil
}

func readInstructions(r io.Reader) ([]Instruction, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	ins := make([]Instruction, count)
	for i := uint32(0); i < count; i++ {
		var rec instructionRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if rec.Op > uint8(OpInterrupt) {
			return nil, fmt.Errorf("instruction %d: unknown opcode 0x%02X", i, rec.Op)
		}
		if rec.MemKind > uint8(MemStackTop2) {
			return nil, fmt.Errorf("instruction %d: unknown mem kind 0x%02X", i, rec.MemKind)
		}
		if rec.Cond > uint8(CondLte) {
			return nil, fmt.Errorf("instruction %d: unknown condition 0x%02X", i, rec.Cond)
		}
		ins[i] = Instruction{
			Op: Opcode(rec.Op),
			Mem: Mem{
				Kind:    MemKind(rec.MemKind),
				Const:   Constant(rec.MemConst),
				Binding: Binding(rec.MemBinding),
			},
			Binding:    Binding(rec.Binding),
			Times:      rec.Times,
			PC:         rec.PC,
			Cond:       Cond(rec.Cond),
			Call:       Call(rec.Call),
			Argc:       rec.Argc,
			PushResult: rec.Push != 0,
		}
	}
	return ins, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
