package main

import "github.com/web3guy0/glasswatch/internal/cli"

func main() {
	cli.Execute()
}
