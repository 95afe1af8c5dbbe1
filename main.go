package main

import "github.com/kebairia/xbauto/cmd"

func main() {
	cmd.Execute()
}
