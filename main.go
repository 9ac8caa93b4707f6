package main

import "github.com/jfmyers9/newsreel/cmd"

func main() {
	cmd.Execute()
}
