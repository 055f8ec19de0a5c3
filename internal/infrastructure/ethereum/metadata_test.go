/*
 * Copyright (c) 2024 Bima Kharisma Wicaksana
 * GitHub: https://github.com/bimakw
 *
 * Licensed under MIT License with Attribution Requirement.
 * See LICENSE file for details.
 */

package ethereum

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func mustHex(s string) []byte {
	data, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return data
}

func TestDecodeStringOrBytes32(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
		wantErr  bool
	}{
		{
			name: "ABI-encoded string",
			input: mustHex("0000000000000000000000000000000000000000000000000000000000000020" + // offset = 32
				"0000000000000000000000000000000000000000000000000000000000000008" + // length = 8
				"55534420436f696e000000000000000000000000000000000000000000000000"), // "USD Coin"
			expected: "USD Coin",
		},
		{
			name:     "bytes32 symbol",
			input:    mustHex("4d4b520000000000000000000000000000000000000000000000000000000000"), // "MKR"
			expected: "MKR",
		},
		{
			name: "ABI-encoded empty string",
			input: mustHex("0000000000000000000000000000000000000000000000000000000000000020" +
				"0000000000000000000000000000000000000000000000000000000000000000"),
			expected: "",
		},
		{
			name:     "non printable bytes32 returned as hex",
			input:    mustHex("ff00000000000000000000000000000000000000000000000000000000000000"),
			expected: "0xff00000000000000000000000000000000000000000000000000000000000000",
		},
		{name: "empty input", input: []byte{}, wantErr: true},
		{name: "short input", input: []byte{0x01, 0x02, 0x03}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeStringOrBytes32(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestFunctionSelectors(t *testing.T) {
	selectors := map[string][]byte{
		"06fdde03": nameSig,
		"95d89b41": symbolSig,
		"313ce567": decimalsSig,
	}

	for want, selector := range selectors {
		if got := hex.EncodeToString(selector); got != want {
			t.Errorf("expected selector %s, got %s", want, got)
		}
	}
}

func TestFetchDecimals_OutOfRange(t *testing.T) {
	client, _ := newTestClient(t, map[string]rpcHandler{
		"eth_call": func(params []json.RawMessage) (interface{}, *rpcErrorBody) {
			if strings.HasPrefix(callData(params), "0x313ce567") {
				return abiUint(300), nil
			}
			return abiString("X"), nil
		},
	}, nil)

	if _, err := client.TokenMetadata(context.Background(), common.HexToAddress("0x4")); err == nil {
		t.Fatal("expected error for decimals above 255")
	}
}
