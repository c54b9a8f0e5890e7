// ----------------------------------------------------------
// Bgwrace
// A BGW210/BGW320 mfg & calibration retrieval tool
// ----------------------------------------------------------
// Docs and code: https://github.com/thezakman/bgwrace
// ----------------------------------------------------------

package main

import (
	"github.com/thezakman/bgwrace/pkg/bgwrace"
)

func main() {
	bgwrace.Run()
}
