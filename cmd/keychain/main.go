package main

import "github.com/layer-3/keychain/cmd/keychain/cmd"

func main() {
	cmd.Execute()
}
