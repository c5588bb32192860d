package main

import "market-risk-alerts/internal/cli"

func main() {
	cli.Execute()
}
