package uid

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenA = common.HexToAddress("0xaa")
	tokenB = common.HexToAddress("0xbb")
)

func TestOrderDigest_Deterministic(t *testing.T) {
	d1 := OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1000, 2000, false)
	d2 := OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1000, 2000, false)
	if d1 != d2 {
		t.Error("identical fields should produce identical digests")
	}
}

func TestOrderDigest_FieldSensitivity(t *testing.T) {
	base := OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1000, 2000, false)

	variants := map[string]common.Hash{
		"sell amount": OrderDigest(tokenA, tokenB, big.NewInt(101), big.NewInt(95), 1000, 2000, false),
		"buy amount":  OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(96), 1000, 2000, false),
		"tokens":      OrderDigest(tokenB, tokenA, big.NewInt(100), big.NewInt(95), 1000, 2000, false),
		"valid from":  OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1001, 2000, false),
		"valid to":    OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1000, 2001, false),
		"fillable":    OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1000, 2000, true),
	}
	for field, d := range variants {
		if d == base {
			t.Errorf("changing %s did not change the digest", field)
		}
	}
}

func TestOrderUID_OwnerDependent(t *testing.T) {
	digest := OrderDigest(tokenA, tokenB, big.NewInt(100), big.NewInt(95), 1000, 2000, false)

	owner1 := common.HexToAddress("0x01")
	owner2 := common.HexToAddress("0x02")

	if OrderUID(digest, owner1) == OrderUID(digest, owner2) {
		t.Error("same order from different owners should have different UIDs")
	}
	if OrderUID(digest, owner1) != OrderUID(digest, owner1) {
		t.Error("UID should be deterministic")
	}
}

func TestCancellationDigest_DiffersFromUID(t *testing.T) {
	uid := common.HexToHash("0x0123")
	if CancellationDigest(uid) == uid {
		t.Error("cancellation digest must not equal the order UID")
	}
}
