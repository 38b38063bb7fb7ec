// Package symbols reads and writes the debug-symbol stream that accompanies
// a module image. The stream maps instruction offsets of each method body
// to source spans. On read, every offset is bound to the *module.Instruction
// starting there, so later edits to a body carry the mapping along; on write,
// offsets are recomputed from the current layout.
package symbols

import (
	"errors"
	"fmt"

	"github.com/chazu/loom/module"
	"github.com/fxamacker/cbor/v2"
)

// Version is the current symbol stream version.
const Version uint16 = 1

var (
	ErrVersionMismatch = errors.New("symbol stream version mismatch")
	ErrMVIDMismatch    = errors.New("symbol stream belongs to a different module")
	ErrUnknownMethod   = errors.New("symbol stream references an unknown method")
	ErrBadOffset       = errors.New("sequence point offset is not an instruction boundary")
	ErrUnboundPoint    = errors.New("sequence point refers to an instruction outside its method")
	ErrBadDocument     = errors.New("sequence point references an unknown document")
)

// File is the decoded form of a symbol stream.
type File struct {
	Version   uint16          `cbor:"1,keyasint"`
	MVID      [16]byte        `cbor:"2,keyasint"`
	Documents []string        `cbor:"3,keyasint,omitempty"`
	Methods   []MethodSymbols `cbor:"4,keyasint,omitempty"`
}

// MethodSymbols holds the debug data of one method, keyed by its MethodDef
// token.
type MethodSymbols struct {
	Token  uint32   `cbor:"1,keyasint"`
	Points []Point  `cbor:"2,keyasint,omitempty"`
	Locals []string `cbor:"3,keyasint,omitempty"`
}

// Point is one sequence point.
type Point struct {
	Offset      uint32 `cbor:"1,keyasint"`
	Document    uint32 `cbor:"2,keyasint"`
	StartLine   uint32 `cbor:"3,keyasint"`
	StartColumn uint32 `cbor:"4,keyasint"`
	EndLine     uint32 `cbor:"5,keyasint"`
	EndColumn   uint32 `cbor:"6,keyasint"`
	Hidden      bool   `cbor:"7,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("symbols: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Decode parses a symbol stream without binding it to a module.
func Decode(data []byte) (*File, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("symbols: unmarshal: %w", err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, f.Version)
	}
	return &f, nil
}

// Attach decodes data and binds its sequence points to the instructions of
// m, replacing each method's Debug field. Methods the stream does not
// mention are left untouched.
func Attach(m *module.Module, data []byte) error {
	f, err := Decode(data)
	if err != nil {
		return err
	}
	if f.MVID != m.MVID {
		return fmt.Errorf("%w: stream %x, module %s", ErrMVIDMismatch, f.MVID, m.MVID)
	}

	byToken := make(map[uint32]*module.MethodDecl)
	for md, tok := range module.MethodTokens(m) {
		byToken[tok] = md
	}

	for _, ms := range f.Methods {
		md, ok := byToken[ms.Token]
		if !ok {
			return fmt.Errorf("%w: token 0x%08X", ErrUnknownMethod, ms.Token)
		}
		info, err := bind(md, f.Documents, ms)
		if err != nil {
			return fmt.Errorf("%s: %w", md, err)
		}
		md.Debug = info
	}
	return nil
}

func bind(md *module.MethodDecl, docs []string, ms MethodSymbols) (*module.DebugInfo, error) {
	module.Layout(md.Body)
	at := make(map[int]*module.Instruction, len(md.Body))
	for _, ins := range md.Body {
		at[ins.Offset] = ins
	}

	info := &module.DebugInfo{LocalNames: ms.Locals}
	for _, p := range ms.Points {
		ins, ok := at[int(p.Offset)]
		if !ok {
			return nil, fmt.Errorf("%w: IL_%04x", ErrBadOffset, p.Offset)
		}
		if int(p.Document) >= len(docs) {
			return nil, fmt.Errorf("%w: %d", ErrBadDocument, p.Document)
		}
		info.Points = append(info.Points, &module.SequencePoint{
			Instruction: ins,
			Document:    docs[p.Document],
			StartLine:   int(p.StartLine),
			StartColumn: int(p.StartColumn),
			EndLine:     int(p.EndLine),
			EndColumn:   int(p.EndColumn),
			Hidden:      p.Hidden,
		})
	}
	return info, nil
}

// Write encodes the debug data of every method in m. Offsets come from the
// current body layout, so instructions inserted since Attach shift the
// points that follow them.
func Write(m *module.Module) ([]byte, error) {
	f := &File{Version: Version, MVID: m.MVID}
	docIndex := make(map[string]uint32)
	tokens := module.MethodTokens(m)

	for _, t := range m.Types {
		for _, md := range t.Methods {
			if md.Debug == nil {
				continue
			}
			ms, err := encodeMethod(md, tokens[md], f, docIndex)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", md, err)
			}
			f.Methods = append(f.Methods, ms)
		}
	}
	return encMode.Marshal(f)
}

func encodeMethod(md *module.MethodDecl, token uint32, f *File, docIndex map[string]uint32) (MethodSymbols, error) {
	module.Layout(md.Body)
	inBody := make(map[*module.Instruction]bool, len(md.Body))
	for _, ins := range md.Body {
		inBody[ins] = true
	}

	ms := MethodSymbols{Token: token, Locals: md.Debug.LocalNames}
	for _, sp := range md.Debug.Points {
		if !inBody[sp.Instruction] {
			return ms, ErrUnboundPoint
		}
		doc, ok := docIndex[sp.Document]
		if !ok {
			doc = uint32(len(f.Documents))
			docIndex[sp.Document] = doc
			f.Documents = append(f.Documents, sp.Document)
		}
		ms.Points = append(ms.Points, Point{
			Offset:      uint32(sp.Instruction.Offset),
			Document:    doc,
			StartLine:   uint32(sp.StartLine),
			StartColumn: uint32(sp.StartColumn),
			EndLine:     uint32(sp.EndLine),
			EndColumn:   uint32(sp.EndColumn),
			Hidden:      sp.Hidden,
		})
	}
	return ms, nil
}
