package main

import "videomonitoring/internal/cli"

func main() {
	cli.Execute()
}
