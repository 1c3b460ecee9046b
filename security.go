// Security levels
//
// Parameter sets are classified with the homomorphic encryption standard
// bounds for ternary secrets and classical attacks: for each ring degree N
// the total modulus size log2(QP) must stay at or below the tabulated value.
//
//	N       128-bit  192-bit  256-bit
//	-----------------------------------
//	1024      27       19       14
//	2048      54       37       29
//	4096     109       75       58
//	8192     218      152      118
//	16384    438      305      237
//	32768    881      611      476
//
// The small-field presets used in tests exceed these bounds on purpose and
// report SecurityNone.
//
// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause
package kanon

import "math"

// SecurityLevel represents the classical security level of a parameter set
type SecurityLevel int

const (
	// SecurityNone marks parameters below 128-bit security
	SecurityNone SecurityLevel = 0
	// Security128 provides 128-bit classical security
	Security128 SecurityLevel = 128
	// Security192 provides 192-bit classical security
	Security192 SecurityLevel = 192
	// Security256 provides 256-bit classical security
	Security256 SecurityLevel = 256
)

// SecurityParams gives the largest admissible modulus per level for one ring
// degree.
type SecurityParams struct {
	LogN     int
	MaxLogQP map[SecurityLevel]int
}

var securityTable = []SecurityParams{
	{LogN: 10, MaxLogQP: map[SecurityLevel]int{Security128: 27, Security192: 19, Security256: 14}},
	{LogN: 11, MaxLogQP: map[SecurityLevel]int{Security128: 54, Security192: 37, Security256: 29}},
	{LogN: 12, MaxLogQP: map[SecurityLevel]int{Security128: 109, Security192: 75, Security256: 58}},
	{LogN: 13, MaxLogQP: map[SecurityLevel]int{Security128: 218, Security192: 152, Security256: 118}},
	{LogN: 14, MaxLogQP: map[SecurityLevel]int{Security128: 438, Security192: 305, Security256: 237}},
	{LogN: 15, MaxLogQP: map[SecurityLevel]int{Security128: 881, Security192: 611, Security256: 476}},
}

// GetSecurityParams returns the bounds for ring degree 2^logN
func GetSecurityParams(logN int) (SecurityParams, bool) {
	for _, sp := range securityTable {
		if sp.LogN == logN {
			return sp, true
		}
	}
	return SecurityParams{}, false
}

// LogQP returns log2 of the product of all ciphertext and key-switching
// moduli.
func (p Parameters) LogQP() float64 {
	var bits float64
	for _, q := range p.Q() {
		bits += math.Log2(float64(q))
	}
	for _, q := range p.P() {
		bits += math.Log2(float64(q))
	}
	return bits
}

// SecurityLevel returns the highest standard level the parameters meet.
func (p Parameters) SecurityLevel() SecurityLevel {
	sp, ok := GetSecurityParams(p.LogN())
	if !ok {
		return SecurityNone
	}
	logQP := int(math.Round(p.LogQP()))
	for _, lvl := range []SecurityLevel{Security256, Security192, Security128} {
		if logQP <= sp.MaxLogQP[lvl] {
			return lvl
		}
	}
	return SecurityNone
}

// Secure128 reports whether the parameters meet 128-bit security
func (p Parameters) Secure128() bool {
	return p.SecurityLevel() >= Security128
}
