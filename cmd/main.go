package main

import "github.com/canopy-network/layercast/cmd/cli"

func main() {
	cli.Execute()
}
