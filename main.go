// Package main serves as the entry point for the quizgen application, a
// generation job engine that drives LLM-backed quiz question creation,
// quality control, review and publishing.
package main

import "quizgen/cmd"

func main() {
	cmd.Execute()
}
