// Command backfill fills missing summaries, reading times and topics of
// stored posts. It accepts the flags of `blog-monitor backfill`.
package main

import (
	"context"
	"os"

	"blog-monitor/pkg/cli"
)

func main() {
	root := cli.NewRootCommand(os.Stdout)
	root.SetArgs(append([]string{"backfill"}, os.Args[1:]...))
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
