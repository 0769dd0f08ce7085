package main

import "github.com/uwuclxdy/ollama-lmstudio-proxy/cmd"

func main() {
	cmd.Execute()
}
