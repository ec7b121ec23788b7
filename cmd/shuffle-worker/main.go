// Command shuffle-worker runs one task-manager-side shuffle endpoint: a
// Task Slot Table, a Result Partition Manager, a Partition Request Queue
// listening for consumer connections, and a read-only operational HTTP
// surface.
package main

import "github.com/streamcore/shuffle/cmd/shuffle-worker/cmd"

func main() {
	cmd.Execute()
}
