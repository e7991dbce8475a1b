package cpufeatures

import "golang.org/x/sys/cpu"

func detect() Features {
	// NEON is a 4-lane float32 tier. The 8-lane tier still runs as
	// paired NEON issues, so ASIMD qualifies for both.
	f := Features{
		Wide:   cpu.ARM64.HasASIMD,
		Narrow: cpu.ARM64.HasASIMD,
	}
	if f.Narrow {
		f.Name = "neon"
	} else {
		f.Name = "scalar"
	}
	return f
}
