package target

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// Host describes the machine the kernels run on.
type Host struct {
	GOOS      string   `json:"goos"`
	GOARCH    string   `json:"goarch"`
	NumCPU    int      `json:"num_cpu"`
	BigEndian bool     `json:"big_endian"`
	Features  []string `json:"features"`
}

// DetectHost reports the running host.
func DetectHost() Host {
	h := Host{
		GOOS:      runtime.GOOS,
		GOARCH:    runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
		BigEndian: cpu.IsBigEndian,
	}
	switch runtime.GOARCH {
	case "arm64":
		h.Features = features([]feature{
			{"asimd", cpu.ARM64.HasASIMD},
			{"sve", cpu.ARM64.HasSVE},
			{"sve2", cpu.ARM64.HasSVE2},
			{"crc32", cpu.ARM64.HasCRC32},
			{"atomics", cpu.ARM64.HasATOMICS},
		})
	case "arm":
		h.Features = features([]feature{
			{"neon", cpu.ARM.HasNEON},
			{"vfpv4", cpu.ARM.HasVFPv4},
			{"idiva", cpu.ARM.HasIDIVA},
		})
	case "amd64", "386":
		h.Features = features([]feature{
			{"sse2", cpu.X86.HasSSE2},
			{"sse41", cpu.X86.HasSSE41},
			{"avx2", cpu.X86.HasAVX2},
			{"avx512f", cpu.X86.HasAVX512F},
			{"bmi2", cpu.X86.HasBMI2},
		})
	}
	return h
}

type feature struct {
	name string
	has  bool
}

func features(fs []feature) []string {
	var out []string
	for _, f := range fs {
		if f.has {
			out = append(out, f.name)
		}
	}
	return out
}
