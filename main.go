package main

import "github.com/CosmoTheDev/ctrlscan-api/cmd"

func main() {
	cmd.Execute()
}
