package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// PageSize is the granule of every aperture binding and of the backing store.
const PageSize = 4096

func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func IsPow2[T constraints.Integer](number T) bool {
	return number > 0 && number&(number-1) == 0
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// PageAlign rounds size up to a whole number of pages
func PageAlign(size int) int {
	return AlignUp(size, PageSize)
}

// NextPow2 returns the smallest power of two greater than or equal to value
func NextPow2(value int) int {
	result := 1
	for result < value {
		result <<= 1
	}
	return result
}
