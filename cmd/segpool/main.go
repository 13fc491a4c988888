// Command segpool runs and operates pooled segment processors.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/arloliu/segpool/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
