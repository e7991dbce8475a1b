package main

import (
	"fmt"
	"runtime"

	"github.com/23skdu/longbow-bodkin/internal/cpufeatures"
)

func main() {
	f := cpufeatures.Get()

	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("Features: %s\n", f.Name)
	fmt.Printf("Wide lanes (8): %v\n", f.Wide)
	fmt.Printf("Narrow lanes (4): %v\n", f.Narrow)
	fmt.Printf("Best tier: %s\n", f.Best())
	fmt.Printf("Override: set %s=1 to force the scalar tier\n", cpufeatures.NoSimdEnvVar)
}
