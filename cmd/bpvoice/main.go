package main

import "github.com/MeKo-Tech/bpvoice/cmd/bpvoice/cmd"

func main() {
	cmd.Execute()
}
