package domain

// ReceivedFile is one completed inbound transfer as surfaced to the
// presentation layer. Data is the reassembled blob, immutable once surfaced.
type ReceivedFile struct {
	Name string
	Size int64
	Data []byte
}
