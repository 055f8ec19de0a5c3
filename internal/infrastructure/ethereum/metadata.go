/*
 * Copyright (c) 2024 Bima Kharisma Wicaksana
 * GitHub: https://github.com/bimakw
 *
 * Licensed under MIT License with Attribution Requirement.
 * See LICENSE file for details.
 */

package ethereum

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/bimakw/chain-wallet/internal/domain/entities"

	"github.com/bimakw/chain-wallet/internal/domain/providers"
)

// ERC-20 function selectors (first 4 bytes of keccak256 hash)
var (
	// name() -> 0x06fdde03
	nameSig = common.FromHex("0x06fdde03")
	// symbol() -> 0x95d89b41
	symbolSig = common.FromHex("0x95d89b41")
	// decimals() -> 0x313ce567
	decimalsSig = common.FromHex("0x313ce567")
)

// errNotToken marks a decimals() answer no ERC-20 contract would give
var errNotToken = errors.New("not a token contract")

// TokenMetadata fetches ERC-20 metadata of a contract. Name and symbol fall
// back to placeholders, but decimals are required: amounts cannot be
// scaled without them. A contract that reverts or answers garbage is
// ErrNotFound; a node failure is returned as is.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (*providers.TokenMetadata, error) {
	decimals, err := c.fetchDecimals(ctx, token)
	if err != nil {
		if errors.Is(err, errNotToken) || IsRevert(err) {
			return nil, entities.Wrapf(entities.ErrNotFound, "%s is not an ERC-20 token: %v", token.Hex(), err)
		}
		return nil, fmt.Errorf("failed to fetch decimals of %s: %w", token.Hex(), err)
	}

	name, err := c.fetchString(ctx, token, nameSig)
	if err != nil {
		c.logger.Debug("Failed to fetch token name, using fallback",
			zap.String("token", token.Hex()),
			zap.Error(err),
		)
		name = "Unknown"
	}

	symbol, err := c.fetchString(ctx, token, symbolSig)
	if err != nil {
		c.logger.Debug("Failed to fetch token symbol, using fallback",
			zap.String("token", token.Hex()),
			zap.Error(err),
		)
		symbol = "UNK"
	}

	return &providers.TokenMetadata{
		Name:     name,
		Symbol:   symbol,
		Decimals: decimals,
	}, nil
}

// fetchString fetches a string-returning getter via eth_call
func (c *Client) fetchString(ctx context.Context, addr common.Address, selector []byte) (string, error) {
	result, err := c.CallContract(ctx, addr, selector)
	if err != nil {
		return "", err
	}
	return decodeStringOrBytes32(result)
}

// fetchDecimals fetches token decimals via eth_call
func (c *Client) fetchDecimals(ctx context.Context, addr common.Address) (uint8, error) {
	result, err := c.CallContract(ctx, addr, decimalsSig)
	if err != nil {
		return 0, err
	}

	if len(result) == 0 {
		return 0, fmt.Errorf("%w: empty result for decimals", errNotToken)
	}

	// Decimals returns uint8, but padded to 32 bytes
	if len(result) < 32 {
		return 0, fmt.Errorf("%w: invalid decimals response length: %d", errNotToken, len(result))
	}

	value := new(big.Int).SetBytes(result[:32])
	if !value.IsUint64() || value.Uint64() > 255 {
		return 0, fmt.Errorf("%w: decimals out of range: %s", errNotToken, value.String())
	}

	return uint8(value.Uint64()), nil
}

// decodeStringOrBytes32 decodes a response that could be either:
// 1. ABI-encoded string: offset (32 bytes) + length (32 bytes) + data (padded to 32 bytes)
// 2. bytes32: raw 32 bytes (e.g., MKR token)
func decodeStringOrBytes32(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty data")
	}

	// If data is less than 32 bytes, invalid
	if len(data) < 32 {
		return "", fmt.Errorf("data too short: %d bytes", len(data))
	}

	// Try to decode as ABI-encoded string first
	// Check if first 32 bytes could be an offset (typically 0x20 = 32)
	if len(data) >= 64 {
		offset := new(big.Int).SetBytes(data[:32])
		if offset.Uint64() == 32 {
			// This looks like an ABI-encoded string
			length := new(big.Int).SetBytes(data[32:64])
			strLen := int(length.Uint64())

			// Handle empty string (length = 0)
			if strLen == 0 {
				return "", nil
			}

			if len(data) >= 64+strLen {
				strData := data[64 : 64+strLen]
				return strings.TrimRight(string(strData), "\x00"), nil
			}
		}
	}

	// Fallback: treat as bytes32
	// Remove trailing null bytes
	result := bytes.TrimRight(data[:32], "\x00")

	// Check if result is printable ASCII
	if isPrintableASCII(result) {
		return string(result), nil
	}

	// Return hex representation if not printable
	return "0x" + hex.EncodeToString(data[:32]), nil
}

// isPrintableASCII checks if all bytes are printable ASCII characters
func isPrintableASCII(data []byte) bool {
	for _, b := range data {
		if b < 32 || b > 126 {
			return false
		}
	}
	return len(data) > 0
}
