package main

import "github.com/callbridge/callcapture/cmd"

func main() {
	cmd.Execute()
}
