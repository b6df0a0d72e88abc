// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

package wasm

// Helpers for constructing version-0xc module binaries in tests.

// uleb encodes an unsigned LEB128 integer.
func uleb(v uint64) []byte {
	if v == 0 {
		return []byte{0x00}
	}
	var out []byte
	for v > 0 {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// sleb encodes a signed LEB128 integer.
func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// section wraps a payload with its id and LEB32 length.
func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

// buildModule assembles magic + version + the given sections.
func buildModule(sections ...[]byte) []byte {
	module := []byte{0x00, 0x61, 0x73, 0x6d, 0x0c, 0x00, 0x00, 0x00}
	for _, s := range sections {
		module = append(module, s...)
	}
	return module
}

// funcType encodes one Type-section entry with form Func.
func funcType(params, results []byte) []byte {
	out := []byte{0x20} // form: func
	out = append(out, uleb(uint64(len(params)))...)
	out = append(out, params...)
	out = append(out, uleb(uint64(len(results)))...)
	return append(out, results...)
}

func typeSection(entries ...[]byte) []byte {
	payload := uleb(uint64(len(entries)))
	for _, e := range entries {
		payload = append(payload, e...)
	}
	return section(SectionType, payload)
}

func functionSection(sigIndices ...uint64) []byte {
	payload := uleb(uint64(len(sigIndices)))
	for _, i := range sigIndices {
		payload = append(payload, uleb(i)...)
	}
	return section(SectionFunction, payload)
}

// funcImport encodes one function import entry.
func funcImport(module, field string, sigIndex uint64) []byte {
	var out []byte
	out = append(out, uleb(uint64(len(module)))...)
	out = append(out, module...)
	out = append(out, uleb(uint64(len(field)))...)
	out = append(out, field...)
	out = append(out, 0x00) // kind: function
	return append(out, uleb(sigIndex)...)
}

func importSection(entries ...[]byte) []byte {
	payload := uleb(uint64(len(entries)))
	for _, e := range entries {
		payload = append(payload, e...)
	}
	return section(SectionImport, payload)
}

func memorySection(pages uint64) []byte {
	payload := uleb(1)                        // count
	payload = append(payload, uleb(0)...)     // flags
	payload = append(payload, uleb(pages)...) // initial
	return section(SectionMemory, payload)
}

// export encodes one Export-section entry of function kind.
func export(field string, index uint64) []byte {
	var out []byte
	out = append(out, uleb(uint64(len(field)))...)
	out = append(out, field...)
	out = append(out, 0x00) // kind: function
	return append(out, uleb(index)...)
}

func exportSection(entries ...[]byte) []byte {
	payload := uleb(uint64(len(entries)))
	for _, e := range entries {
		payload = append(payload, e...)
	}
	return section(SectionExport, payload)
}

// funcBody encodes one Code-section body: the local groups, the code and
// the terminating end byte, prefixed with the body size.
func funcBody(localGroups []byte, code []byte) []byte {
	if localGroups == nil {
		localGroups = []byte{0x00}
	}
	body := append([]byte{}, localGroups...)
	body = append(body, code...)
	body = append(body, 0x0f) // end
	out := uleb(uint64(len(body)))
	return append(out, body...)
}

// localGroup declares count locals of the given value-kind code.
func localGroup(count uint64, kindCode byte) []byte {
	out := uleb(count)
	return append(out, kindCode)
}

func localGroups(groups ...[]byte) []byte {
	out := uleb(uint64(len(groups)))
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func codeSection(bodies ...[]byte) []byte {
	payload := uleb(uint64(len(bodies)))
	for _, b := range bodies {
		payload = append(payload, b...)
	}
	return section(SectionCode, payload)
}

// dataSegment encodes one Data-section segment.
func dataSegment(offset uint64, data []byte) []byte {
	out := uleb(0) // memory index
	out = append(out, uleb(offset)...)
	out = append(out, uleb(uint64(len(data)))...)
	return append(out, data...)
}

func dataSection(segments ...[]byte) []byte {
	payload := uleb(uint64(len(segments)))
	for _, s := range segments {
		payload = append(payload, s...)
	}
	return section(SectionData, payload)
}

// noHost is a host callback for modules without imports.
func noHost(mem *Memory, module, field string, args []Value) ([]Value, error) {
	return nil, nil
}
