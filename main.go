package main

import "docqa/cmd"

func main() {
	cmd.Execute()
}
