package models

import "fmt"

// ResourceVector is a multi-dimensional quantity of compute resources.
// A valid vector has no negative components.
type ResourceVector struct {
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryMB  int64   `json:"memory_mb" yaml:"memory_mb"`
	GPUUnits  int64   `json:"gpu_units" yaml:"gpu_units"`
	StorageGB int64   `json:"storage_gb" yaml:"storage_gb"`
}

// ZeroVector returns the empty resource vector.
func ZeroVector() ResourceVector {
	return ResourceVector{}
}

// Add returns the component-wise sum of v and other.
func (v ResourceVector) Add(other ResourceVector) ResourceVector {
	return ResourceVector{
		CPUCores:  v.CPUCores + other.CPUCores,
		MemoryMB:  v.MemoryMB + other.MemoryMB,
		GPUUnits:  v.GPUUnits + other.GPUUnits,
		StorageGB: v.StorageGB + other.StorageGB,
	}
}

// Sub returns the component-wise difference of v and other. The result may
// have negative components; callers that must not go negative check with
// HasNegative or use SubClamped.
func (v ResourceVector) Sub(other ResourceVector) ResourceVector {
	return ResourceVector{
		CPUCores:  v.CPUCores - other.CPUCores,
		MemoryMB:  v.MemoryMB - other.MemoryMB,
		GPUUnits:  v.GPUUnits - other.GPUUnits,
		StorageGB: v.StorageGB - other.StorageGB,
	}
}

// SubClamped subtracts other from v, flooring every component at zero.
func (v ResourceVector) SubClamped(other ResourceVector) ResourceVector {
	r := v.Sub(other)
	if r.CPUCores < 0 {
		r.CPUCores = 0
	}
	if r.MemoryMB < 0 {
		r.MemoryMB = 0
	}
	if r.GPUUnits < 0 {
		r.GPUUnits = 0
	}
	if r.StorageGB < 0 {
		r.StorageGB = 0
	}
	return r
}

// Fits reports whether v can accommodate other, i.e. every component of v is
// greater than or equal to the corresponding component of other.
func (v ResourceVector) Fits(other ResourceVector) bool {
	return v.CPUCores >= other.CPUCores &&
		v.MemoryMB >= other.MemoryMB &&
		v.GPUUnits >= other.GPUUnits &&
		v.StorageGB >= other.StorageGB
}

// HasNegative reports whether any component is below zero.
func (v ResourceVector) HasNegative() bool {
	return v.CPUCores < 0 || v.MemoryMB < 0 || v.GPUUnits < 0 || v.StorageGB < 0
}

// IsZero reports whether every component is zero.
func (v ResourceVector) IsZero() bool {
	return v.CPUCores == 0 && v.MemoryMB == 0 && v.GPUUnits == 0 && v.StorageGB == 0
}

func (v ResourceVector) String() string {
	return fmt.Sprintf("cpu=%.2f mem=%dMB gpu=%d storage=%dGB",
		v.CPUCores, v.MemoryMB, v.GPUUnits, v.StorageGB)
}
