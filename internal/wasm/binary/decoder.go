// Package binary decodes and encodes the WebAssembly 1.0 (MVP) Binary Format.
package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wasmevm/wasmevm/internal/leb128"
	"github.com/wasmevm/wasmevm/internal/wasm"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6D}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// DecodeModule decodes a module in the WebAssembly 1.0 (MVP) Binary Format.
// See https://www.w3.org/TR/wasm-core-1/#binary-format%E2%91%A0
func DecodeModule(binary []byte) (*wasm.Module, error) {
	r := bytes.NewReader(binary)

	// Magic number.
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, magic) {
		return nil, wasm.ErrInvalidMagicNumber
	}

	// Version.
	if _, err := io.ReadFull(r, buf); err != nil || !bytes.Equal(buf, version) {
		return nil, wasm.ErrInvalidVersion
	}

	m := &wasm.Module{}
	var lastSectionID wasm.SectionID
	for {
		sectionID, err := r.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		sectionSize, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %v", wasm.SectionIDName(sectionID), err)
		}
		if int64(sectionSize) > int64(r.Len()) {
			return nil, fmt.Errorf("section %s: size %d exceeds remaining %d bytes",
				wasm.SectionIDName(sectionID), sectionSize, r.Len())
		}

		if sectionID != wasm.SectionIDCustom {
			if sectionID <= lastSectionID {
				return nil, fmt.Errorf("section %s: out of order", wasm.SectionIDName(sectionID))
			}
			lastSectionID = sectionID
		}

		sectionContentStart := r.Len()
		switch sectionID {
		case wasm.SectionIDCustom:
			var data []byte
			var name string
			if name, data, err = decodeCustomSection(r, sectionSize); err == nil && name == "name" {
				// Names are informative. A broken name section must not fail compilation.
				if ns, nameErr := decodeNameSection(data); nameErr == nil {
					m.NameSection = ns
				}
			}
		case wasm.SectionIDType:
			m.TypeSection, err = decodeTypeSection(r)
		case wasm.SectionIDImport:
			m.ImportSection, err = decodeImportSection(r)
		case wasm.SectionIDFunction:
			m.FunctionSection, err = decodeFunctionSection(r)
		case wasm.SectionIDTable:
			m.TableSection, err = decodeTableSection(r)
		case wasm.SectionIDMemory:
			m.MemorySection, err = decodeMemorySection(r)
		case wasm.SectionIDGlobal:
			m.GlobalSection, err = decodeGlobalSection(r)
		case wasm.SectionIDExport:
			m.ExportSection, err = decodeExportSection(r)
		case wasm.SectionIDStart:
			m.StartSection, err = decodeStartSection(r)
		case wasm.SectionIDElement:
			m.ElementSection, err = decodeElementSection(r)
		case wasm.SectionIDCode:
			m.CodeSection, err = decodeCodeSection(r)
		case wasm.SectionIDData:
			m.DataSection, err = decodeDataSection(r)
		default:
			err = wasm.ErrInvalidSectionID
		}

		if read := sectionContentStart - r.Len(); err == nil && read != int(sectionSize) {
			err = fmt.Errorf("invalid section length: expected to be %d but got %d", sectionSize, read)
		}

		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section have inconsistent lengths")
	}
	return m, nil
}
