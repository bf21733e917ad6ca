package main

import "flight-deal-scanner/internal/cli"

func main() {
	cli.Execute()
}
