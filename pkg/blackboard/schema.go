package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// several agora simulations can share a single Redis server.
//
// Key pattern: agora:{instance_name}:{entity}:{id}
// Channel pattern: agora:{instance_name}:{event_type}_events

// RunKey returns the Redis key for a run record hash.
// Pattern: agora:{instance_name}:run:{run_id}
func RunKey(instanceName, runID string) string {
	return fmt.Sprintf("agora:%s:run:%s", instanceName, runID)
}

// RunsIndexKey returns the Redis key for the ZSET of runs ordered by start time.
// Pattern: agora:{instance_name}:runs
func RunsIndexKey(instanceName string) string {
	return fmt.Sprintf("agora:%s:runs", instanceName)
}

// RoundKey returns the Redis key for a single round hash.
// Pattern: agora:{instance_name}:run:{run_id}:round:{round}
func RoundKey(instanceName, runID string, round int) string {
	return fmt.Sprintf("agora:%s:run:%s:round:%d", instanceName, runID, round)
}

// RoundsIndexKey returns the Redis key for the ZSET of a run's rounds.
// Pattern: agora:{instance_name}:run:{run_id}:rounds
func RoundsIndexKey(instanceName, runID string) string {
	return fmt.Sprintf("agora:%s:run:%s:rounds", instanceName, runID)
}

// StreamEventsChannel returns the Pub/Sub channel carrying stream events.
// Pattern: agora:{instance_name}:stream_events
func StreamEventsChannel(instanceName string) string {
	return fmt.Sprintf("agora:%s:stream_events", instanceName)
}

// RoundEventsChannel returns the Pub/Sub channel carrying round events.
// Pattern: agora:{instance_name}:round_events
func RoundEventsChannel(instanceName string) string {
	return fmt.Sprintf("agora:%s:round_events", instanceName)
}
