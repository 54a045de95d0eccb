package memutils

// Validatable is anything that can check its own internal consistency, such as a device memory
// block checking that its free spans are in bounds and do not overlap
type Validatable interface {
	Validate() error
}
