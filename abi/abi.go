// Package abi derives the signature strings and 4-byte selectors that route external calls to exported functions.
package abi

import (
	"strings"

	"golang.org/x/crypto/sha3"
)

// SelectorSize is the width of a function selector in bytes.
const SelectorSize = 4

// Selector is the leading 4 bytes of the Keccak-256 digest of a function signature.
type Selector = [SelectorSize]byte

// Param is one input or output of a Function.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Function describes an externally callable function.
type Function struct {
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	Inputs  []Param `json:"inputs"`
	Outputs []Param `json:"outputs"`
}

// Signature returns "name(t1,...,tn)": input types only, no argument names nor outputs.
func (f *Function) Signature() string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte('(')
	for i, in := range f.Inputs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(in.Type)
	}
	b.WriteByte(')')
	return b.String()
}

// Selector returns ParseSelector of the signature.
func (f *Function) Selector() Selector {
	return ParseSelector([]byte(f.Signature()))
}

// Keccak256 returns the legacy (pre-NIST) Keccak-256 digest used by the EVM.
func Keccak256(input []byte) (digest [32]byte) {
	h := sha3.NewLegacyKeccak256()
	h.Write(input)
	h.Sum(digest[:0])
	return
}

// ParseSelector returns the first 4 bytes of Keccak256(signature).
func ParseSelector(signature []byte) (s Selector) {
	digest := Keccak256(signature)
	copy(s[:], digest[:SelectorSize])
	return
}
