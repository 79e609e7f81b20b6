/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/streamfold/ris-relay/cmd"

func main() {
	cmd.Execute()
}
