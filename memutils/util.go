package memutils

import "github.com/cockroachdb/errors"

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return errors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// PageRoundUp returns the number of bytes reserved for a request of size bytes in a block
// divided into pages of pageSize bytes. The result is always at least one page larger than
// size / pageSize pages, so a size that is already an exact multiple of pageSize still
// receives one additional page.
func PageRoundUp(size int, pageSize int) int {
	return (size/pageSize + 1) * pageSize
}
