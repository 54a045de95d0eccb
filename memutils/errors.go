package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is wrapped by CheckPow2 when a page size or granularity is not a power of two
var PowerOfTwoError = errors.New("number must be a power of two")
