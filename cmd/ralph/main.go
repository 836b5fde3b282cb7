// Command ralph drives an external AI agent CLI (or the Anthropic API
// directly) through the verified task loop described by this
// repository: implementation, test-writing, gates, and review, one
// task at a time, with a checksum-sealed ledger guarding against a
// task being marked done without the loop's own say-so.
package main

func main() {
	Execute()
}
