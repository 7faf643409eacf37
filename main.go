package main

import "github.com/ValentinKolb/dCloud/cmd"

func main() {
	cmd.Execute()
}
