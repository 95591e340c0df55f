// imbridge drives the text-input / input-method bridge of a seat.
//
// Usage:
//
//	imbridge replay <script.yaml>     replay a scripted session and check its expectations
//	imbridge config check <file>      validate a configuration file
//	imbridge config print [file]      print the effective configuration
//	imbridge serve                    run a seat with metrics and bus status
package main

import "os"

func main() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}
