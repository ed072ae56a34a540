package types

// PartitionRange describes the contiguous slice of the monitored store's
// key space covered by one partition: [Min, Max).
//
// Max is exclusive. Splits replace one parent range by two or more child
// ranges that exactly cover it.
type PartitionRange struct {
	Min string
	Max string
}

// Partition identifies one logical slice of the monitored store's change
// feed. ID is the opaque identifier assigned by the store; Range is the
// key-space slice it covers.
type Partition struct {
	ID    string
	Range PartitionRange
}

// ChangeRecord is one opaque change document plus the continuation token
// that labels it. The token is only meaningful when passed back to the
// feed store to resume reading after this record.
type ChangeRecord struct {
	Payload     []byte
	Token       string
	PartitionID string
}

// ChangeBatch is a group of change records returned by one read, all from
// the same partition, together with the token to resume after the batch.
type ChangeBatch struct {
	PartitionID string
	Records     []ChangeRecord
	NextToken   string
}
