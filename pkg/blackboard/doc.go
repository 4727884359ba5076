// # Overview
//
// A simulation produces two kinds of observable output:
//
//   - stream events (message_start, chunk, message_end, done, error) that let a
//     UI render the conversation as it is generated
//   - round events that record each auction: every participant's bid, the
//     winner and the credits left afterwards
//
// Both are plain Go types with validation methods. The Client publishes them
// over Redis Pub/Sub so that processes other than the scheduler (the watch
// command, a second server) can follow a run, and stores run and round records
// in hashes for later inspection.
//
// # Usage Example
//
//	client, err := blackboard.NewClientFromURL("redis://localhost:6379/0", "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	sub, err := client.SubscribeEvents(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sub.Close()
//
//	for e := range sub.Events() {
//		fmt.Println(e.Type, e.Speaker)
//	}
//
// # Redis Schema
//
// Run records: agora:{instance_name}:run:{run_id}
// Run index (ZSET by start time): agora:{instance_name}:runs
// Round records: agora:{instance_name}:run:{run_id}:round:{n}
// Round index (ZSET by round number): agora:{instance_name}:run:{run_id}:rounds
//
// Stream events: agora:{instance_name}:stream_events
// Round events: agora:{instance_name}:round_events
//
// The conversation itself is not stored here. The ledger file is the only
// durable record of who said what.
package blackboard
