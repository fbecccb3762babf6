package main

import "github.com/robertobartola/mybackrec/cmd"

func main() {
	cmd.Execute()
}
