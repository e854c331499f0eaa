package main

import "github.com/llmshield/llm-shield/cmd"

func main() {
	cmd.Execute()
}
