package main

import "github.com/andresmejia3/facextract/cmd"

func main() {
	cmd.Execute()
}
