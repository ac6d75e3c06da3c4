package main

import "github.com/takopihq/takopi/cmd"

func main() {
	cmd.Execute()
}
