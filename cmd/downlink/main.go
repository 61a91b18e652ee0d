package main

import "github.com/vietddude/downlink/internal/cli"

func main() {
	cli.Execute()
}
