package cpufeatures

import "golang.org/x/sys/cpu"

func detect() Features {
	f := Features{
		Wide:   cpu.X86.HasAVX2,
		Narrow: cpu.X86.HasSSE2,
	}
	switch {
	case f.Wide:
		f.Name = "avx2"
	case f.Narrow:
		f.Name = "sse2"
	default:
		f.Name = "scalar"
	}
	return f
}
