package main

import "github.com/ksali86/riftlands-ai-dm/cmd"

func main() {
	cmd.Execute()
}
