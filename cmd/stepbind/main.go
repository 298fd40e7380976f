// Command stepbind runs scenario plans against script step definitions.
// Programs with Go step definitions embed the CLI through cli.ExecuteWith.
package main

import "github.com/devicelab-dev/stepbind/pkg/cli"

func main() {
	cli.Execute()
}
