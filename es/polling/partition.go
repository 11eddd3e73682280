package polling

import "hash/fnv"

// PartitionStrategy decides which commits a client instance handles when
// several instances share one checkpoint sequence.
type PartitionStrategy interface {
	// ShouldHandle returns true if the instance identified by partitionKey
	// (0-indexed, out of totalPartitions) handles commits of the given stream.
	ShouldHandle(bucketID, streamID string, partitionKey, totalPartitions int) bool
}

// HashPartitionStrategy assigns streams to partitions by an FNV-1a hash of
// their bucket and stream id. All commits of a stream go to the same partition,
// so per-stream ordering is kept while the load spreads across instances.
type HashPartitionStrategy struct{}

// ShouldHandle implements PartitionStrategy.
func (HashPartitionStrategy) ShouldHandle(bucketID, streamID string, partitionKey, totalPartitions int) bool {
	if totalPartitions <= 1 {
		return true
	}

	h := fnv.New32a()
	h.Write([]byte(bucketID))
	h.Write([]byte{0})
	h.Write([]byte(streamID))
	return int(h.Sum32()%uint32(totalPartitions)) == partitionKey
}
