// Command vtxctl reads and writes DynamoDB items through versioned
// transactions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/jacentio/versioned/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
