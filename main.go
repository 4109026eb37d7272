package main

import "github.com/maloferriol/my-local-ai-agent/cmd"

func main() {
	cmd.Execute()
}
