// agentlens is an edge proxy that reports coding-agent visits to docs.
package main

import "github.com/ppiankov/agentlens/internal/cli"

func main() {
	cli.Execute()
}
