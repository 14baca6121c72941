package main

import "github.com/jk-nd/noumena-mcp-gateway-poc-sub004/cmd"

// version can be set during build with -ldflags.
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
