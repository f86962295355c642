package dispatch

// Directory resolves a recipient id to delivery addresses. The identity
// provider owns this data; the engine only needs a lookup. Senders skip a
// channel when the directory has no address for it.
type Directory interface {
	EmailFor(recipientID string) (string, bool)
	PhoneFor(recipientID string) (string, bool)
}

// StaticDirectory is a fixed in-memory directory, seeded from config.
// Suitable for single-tenant deployments and tests.
type StaticDirectory struct {
	Emails map[string]string
	Phones map[string]string
}

func (d *StaticDirectory) EmailFor(recipientID string) (string, bool) {
	addr, ok := d.Emails[recipientID]
	return addr, ok && addr != ""
}

func (d *StaticDirectory) PhoneFor(recipientID string) (string, bool) {
	num, ok := d.Phones[recipientID]
	return num, ok && num != ""
}
