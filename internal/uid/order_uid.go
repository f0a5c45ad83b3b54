// Package uid computes content-addressed order identifiers.
package uid

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// OrderDigest computes the keccak256 hash of the order's signed fields.
// This is the message the owner signs; it does not include the owner
// address, which is recovered from the signature.
func OrderDigest(
	sellToken, buyToken common.Address,
	sellAmount, buyAmount *big.Int,
	validFrom, validTo int64,
	partiallyFillable bool,
) common.Hash {
	buf := make([]byte, 0, 20+20+32+32+8+8+1)
	buf = append(buf, sellToken.Bytes()...)
	buf = append(buf, buyToken.Bytes()...)
	buf = append(buf, common.LeftPadBytes(sellAmount.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(buyAmount.Bytes(), 32)...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(validFrom))
	buf = binary.BigEndian.AppendUint64(buf, uint64(validTo))
	if partiallyFillable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return crypto.Keccak256Hash(buf)
}

// OrderUID derives the order identifier from the signed digest and the
// recovered owner. Two identical orders from the same owner collide by
// construction, which is what makes duplicate admission detectable.
func OrderUID(digest common.Hash, owner common.Address) common.Hash {
	return crypto.Keccak256Hash(digest.Bytes(), owner.Bytes())
}

// CancellationDigest computes the message an owner signs to cancel an
// order.
func CancellationDigest(orderUID common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte("cancel"), orderUID.Bytes())
}
