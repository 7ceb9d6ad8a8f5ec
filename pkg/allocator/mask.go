package allocator

import (
	"math/big"
	"math/bits"
	"strings"

	"github.com/pkg/errors"
)

// cuGroupSelector addresses the first visible device of the launched process.
const cuGroupSelector = "0:"

// CUMask returns width set bits shifted left by offset.
func CUMask(width, offset int) *big.Int {
	mask := new(big.Int).Lsh(big.NewInt(1), uint(width))
	mask.Sub(mask, big.NewInt(1))
	return mask.Lsh(mask, uint(offset))
}

// FormatCUMask renders the mask as "0:<hex>" zero padded to one nibble per
// 4 utilized CUs so every rank of a device gets a string of the same length.
func FormatCUMask(mask *big.Int, utilizedCUs int) string {
	digits := mask.Text(16)
	if pad := (utilizedCUs+3)/4 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	return cuGroupSelector + digits
}

// ParseCUMask reads a "<group>:<hex>" mask.
func ParseCUMask(s string) (*big.Int, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return nil, errors.Errorf("cu mask %q has no group selector", s)
	}
	hex := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s[idx+1:])), "0x")
	mask, ok := new(big.Int).SetString(hex, 16)
	if !ok || mask.Sign() < 0 {
		return nil, errors.Errorf("cu mask %q is not a hexadecimal value", s)
	}
	return mask, nil
}

func CountCUs(mask *big.Int) (n int) {
	for _, w := range mask.Bits() {
		n += bits.OnesCount(uint(w))
	}
	return
}
