package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the number of workload subject partitions.
// Events for one trainer always land on the same partition.
const ShardCount = 64

// SubjectPrefix is the root of every workload subject; the stream binds to SubjectPrefix + ".>".
const SubjectPrefix = "workload.training"

// GetShardID calculates the deterministic shard ID for a trainer username.
func GetShardID(trainerUsername string) int {
	checksum := crc32.ChecksumIEEE([]byte(trainerUsername))
	return int(checksum % ShardCount)
}

// GetSubject returns the JetStream subject for a trainer's workload events.
// Format: workload.training.{shard_id}
func GetSubject(trainerUsername string) string {
	return fmt.Sprintf("%s.%d", SubjectPrefix, GetShardID(trainerUsername))
}
