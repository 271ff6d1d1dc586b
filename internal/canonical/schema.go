// Package canonical serializes a verified attestation into the fixed ABI
// tuple consumed on chain. The layout is a versioned wire contract.
package canonical

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// SchemaVersion identifies the field order and widths below. Any change to
// them requires a new version.
const SchemaVersion = 1

// Field names in encoding order.
var fieldNames = []string{
	"signature",
	"message",
	"exponent",
	"modulus",
	"price",
	"timestamp",
	"nonce",
	"attestationType",
	"complianceStatus",
	"debuggable",
	"vmpl",
}

var fieldTypes = []string{
	"bytes",
	"bytes",
	"bytes4",
	"bytes",
	"uint256",
	"uint64",
	"string",
	"string",
	"string",
	"bool",
	"uint8",
}

var arguments = mustArguments()

func mustArguments() abi.Arguments {
	args := make(abi.Arguments, len(fieldNames))
	for i, name := range fieldNames {
		t, err := abi.NewType(fieldTypes[i], "", nil)
		if err != nil {
			panic(fmt.Sprintf("canonical: abi type %s: %v", fieldTypes[i], err))
		}
		args[i] = abi.Argument{Name: name, Type: t}
	}
	return args
}

// SchemaSignature returns the tuple type, for example for a Solidity
// abi.decode call on the consumer side.
func SchemaSignature() string {
	types := make([]string, len(arguments))
	for i, a := range arguments {
		types[i] = a.Type.String()
	}
	return "(" + strings.Join(types, ",") + ")"
}

// Fields lists "type name" pairs in encoding order.
func Fields() []string {
	out := make([]string, len(arguments))
	for i, a := range arguments {
		out[i] = a.Type.String() + " " + a.Name
	}
	return out
}
