package main

import "studysync/cmd/server/cmd"

func main() {
	cmd.Execute()
}
