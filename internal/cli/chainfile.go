package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/roach88/poam/internal/ir"
)

// Proof chains and single proofs travel between commands as JSON files in
// the same wire form the HTTP API uses.

func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read file", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write file", err)
	}
	return nil
}

func readProofChain(path string) (ir.ProofChain, error) {
	var chain ir.ProofChain
	if err := readJSONFile(path, &chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// readProof accepts either a single proof or a proof chain, taking the
// chain's last element.
func readProof(path string) (ir.Proof, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ir.Proof{}, WrapExitError(ExitCommandError, "failed to read file", err)
	}

	var chain ir.ProofChain
	if json.Unmarshal(data, &chain) == nil {
		last, ok := chain.Last()
		if !ok {
			return ir.Proof{}, NewExitError(ExitCommandError, fmt.Sprintf("%s: proof chain is empty", path))
		}
		return last, nil
	}

	var p ir.Proof
	if err := json.Unmarshal(data, &p); err != nil {
		return ir.Proof{}, WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return p, nil
}
