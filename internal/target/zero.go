package target

// zeroKind is a builtin sink target (§4.1 supplement): it completes
// every request synchronously without touching an underlying device,
// useful for exercising mapping-table construction and deferred I/O
// without a real backing store.
type zeroKind struct{}

// Construct implements Kind.Construct. zero takes no params and never
// fails.
func (zeroKind) Construct([]byte, Range) (Instance, error) {
	return nil, nil
}

// Map implements Kind.Map. It always completes synchronously.
func (zeroKind) Map(_ *Request, _ Instance) (Outcome, error) {
	return Complete, nil
}

// Destruct implements Kind.Destruct.
func (zeroKind) Destruct(Instance) {}
