package wasm

import (
	"bytes"
	"errors"
	"fmt"
)

// SectionSummary describes one section of an encoded module.
type SectionSummary struct {
	ID   byte
	Name string // custom sections only
	Size int
}

// Summary is a shallow decoding of an encoded module.
type Summary struct {
	Sections  []SectionSummary
	Imports   []string // "module.name"
	Exports   []string
	Functions int
	Symbols   int
	Relocs    int
	DataBytes int

	// FunctionNames comes from the "name" section.
	FunctionNames []FunctionName
}

var errBadHeader = errors.New("wasm: not a wasm module")

type reader struct {
	b   []byte
	pos int
}

func (r *reader) uleb() (uint64, error) {
	v, n, err := ReadULEB(r.b[r.pos:])
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *reader) name() (string, error) {
	n, err := r.uleb()
	if err != nil {
		return "", err
	}
	end := r.pos + int(n)
	if end > len(r.b) || end < r.pos {
		return "", errors.New("wasm: truncated name")
	}
	s := string(r.b[r.pos:end])
	r.pos = end
	return s, nil
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, errors.New("wasm: unexpected end of section")
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

// Inspect decodes section headers and the tables the dump command prints.
func Inspect(b []byte) (*Summary, error) {
	if len(b) < len(header) || !bytes.Equal(b[:len(header)], header) {
		return nil, errBadHeader
	}
	s := &Summary{}
	r := &reader{b: b, pos: len(header)}
	for r.pos < len(b) {
		id, err := r.readByte()
		if err != nil {
			return nil, err
		}
		size, err := r.uleb()
		if err != nil {
			return nil, err
		}
		end := r.pos + int(size)
		if end > len(b) || end < r.pos {
			return nil, fmt.Errorf("wasm: section %d overruns the module", id)
		}
		sec := &reader{b: b[r.pos:end]}
		sum := SectionSummary{ID: id, Size: int(size)}
		if err := s.inspectSection(id, sec, &sum); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		s.Sections = append(s.Sections, sum)
		r.pos = end
	}
	return s, nil
}

func (s *Summary) inspectSection(id byte, r *reader, sum *SectionSummary) error {
	switch id {
	case SectionCustom:
		name, err := r.name()
		if err != nil {
			return err
		}
		sum.Name = name
		switch name {
		case "linking":
			return s.inspectLinking(r)
		case "reloc.CODE":
			if _, err := r.uleb(); err != nil {
				return err
			}
			n, err := r.uleb()
			if err != nil {
				return err
			}
			s.Relocs = int(n)
		case "name":
			return s.inspectNames(r)
		}
	case SectionImport:
		n, err := r.uleb()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			mod, err := r.name()
			if err != nil {
				return err
			}
			name, err := r.name()
			if err != nil {
				return err
			}
			if _, err := r.readByte(); err != nil {
				return err
			}
			if _, err := r.uleb(); err != nil {
				return err
			}
			s.Imports = append(s.Imports, mod+"."+name)
		}
	case SectionFunction:
		n, err := r.uleb()
		if err != nil {
			return err
		}
		s.Functions = int(n)
	case SectionExport:
		n, err := r.uleb()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			name, err := r.name()
			if err != nil {
				return err
			}
			if _, err := r.readByte(); err != nil {
				return err
			}
			if _, err := r.uleb(); err != nil {
				return err
			}
			s.Exports = append(s.Exports, name)
		}
	case SectionData:
		n, err := r.uleb()
		if err != nil {
			return err
		}
		for i := uint64(0); i < n; i++ {
			// flags, i32.const base, end
			if _, err := r.uleb(); err != nil {
				return err
			}
			if _, err := r.readByte(); err != nil {
				return err
			}
			_, width, err := ReadSLEB(r.b[r.pos:])
			if err != nil {
				return err
			}
			r.pos += width
			if _, err := r.readByte(); err != nil {
				return err
			}
			size, err := r.uleb()
			if err != nil {
				return err
			}
			r.pos += int(size)
			s.DataBytes += int(size)
		}
	}
	return nil
}

func (s *Summary) inspectLinking(r *reader) error {
	if _, err := r.uleb(); err != nil {
		return err
	}
	for r.pos < len(r.b) {
		kind, err := r.readByte()
		if err != nil {
			return err
		}
		size, err := r.uleb()
		if err != nil {
			return err
		}
		if kind == linkingSymbolTable {
			n, err := r.uleb()
			if err != nil {
				return err
			}
			s.Symbols = int(n)
			return nil
		}
		r.pos += int(size)
	}
	return nil
}

// SectionName returns the conventional name of a section id.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	default:
		return fmt.Sprintf("section(%d)", id)
	}
}
