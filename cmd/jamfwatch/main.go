package main

import "jamfwatch/internal/cli"

func main() {
	cli.Execute()
}
