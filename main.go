package main

import "github.com/HerodotusDev/multi-party-ecdsa/cmd"

func main() {
	cmd.Execute()
}
