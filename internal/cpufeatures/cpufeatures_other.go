//go:build !amd64 && !arm64

package cpufeatures

func detect() Features {
	return Features{Name: "scalar"}
}
