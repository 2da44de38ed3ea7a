package main

import "github.com/mentorlink/sessiond/cmd/peerctl/cmd"

func main() {
	cmd.Execute()
}
