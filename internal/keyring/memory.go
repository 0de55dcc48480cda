package keyring

// Memory is a slice-backed Keyring, used by default and by tests.
type Memory struct {
	identities []Identity
}

// NewMemory constructs a Memory keyring seeded with the given identities.
func NewMemory(identities ...Identity) *Memory {
	return &Memory{identities: identities}
}

// Add registers an additional identity.
func (m *Memory) Add(id Identity) {
	m.identities = append(m.identities, id)
}

func (m *Memory) Identities() []Identity {
	out := make([]Identity, len(m.identities))
	copy(out, m.identities)
	return out
}
