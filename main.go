package main

import "github.com/jmehdipour/ops-messaging/cmd"

func main() {
	cmd.Execute()
}
