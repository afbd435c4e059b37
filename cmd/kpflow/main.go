// Command kpflow runs keypoint lists through a pipeline of stream
// operations on the software adapter.
//
// Usage:
//
//	kpflow gen -n 500 --seed 7 > points.json
//	kpflow run --input points.json --border 16 --clip 100
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
