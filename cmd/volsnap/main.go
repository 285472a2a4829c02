// Command volsnap drives volume snapshots through their lifecycle.
package main

import "github.com/jvs-project/volsnap/internal/cli"

func main() {
	cli.Execute()
}
