package main

import "github.com/naka-gawa/oss-stamp/cmd"

func main() {
	cmd.Execute()
}
