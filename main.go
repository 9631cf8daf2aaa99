package main

import "github.com/synadia-labs/workload-probe/cmd"

func main() {
	cmd.Execute()
}
