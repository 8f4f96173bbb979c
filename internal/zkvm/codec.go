package zkvm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("zkvm: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("zkvm: cbor dec mode: %v", err))
	}
}

// Marshal encodes v with deterministic CBOR. Equal values always encode
// to equal bytes, which is what lets a guest re-encode public data and
// match an assumption's journal digest.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Duplicate map keys, unknown fields
// and trailing bytes are errors.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
