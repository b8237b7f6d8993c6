package main

import "cfdi-reconciler/cmd/conciliador/cmd"

func main() {
	cmd.Execute()
}
