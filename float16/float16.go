// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package float16 implements the 2-byte IEEE 754 half-precision scalar
// stored by float16 table fields.
package float16

import (
	"math"
	"strconv"
)

// Num is a half-precision floating point value: 1 sign bit, 5 exponent
// bits with bias 15, 10 fraction bits.
//
// See https://en.wikipedia.org/wiki/Half-precision_floating-point_format.
type Num struct {
	bits uint16
}

const (
	signShift = 15
	expShift  = 10
	expMax    = 0x1f // Inf 与 NaN 的指数
	fracMask  = 0x3ff
	bias      = 15
)

// New rounds f toward zero to the nearest half. Values beyond the float16
// range saturate to infinity and values below the smallest normal flush to
// a zero of the same sign. A NaN stays a NaN.
func New(f float32) Num {
	b := math.Float32bits(f)
	sign := uint16(b>>31) << signShift
	exp := int(b>>23) & 0xff
	frac := uint16(b>>13) & fracMask

	switch {
	case exp == 0xff:
		// 截断后尾数可能为 0 ，NaN 会变成 Inf ，保留最高位
		if b&0x7fffff != 0 && frac == 0 {
			frac = 0x200
		}
		return Num{bits: sign | expMax<<expShift | frac}
	case exp == 0:
		return Num{bits: sign}
	}
	switch e := exp - 127 + bias; {
	case e >= expMax:
		return Num{bits: sign | expMax<<expShift}
	case e <= 0:
		return Num{bits: sign}
	default:
		return Num{bits: sign | uint16(e)<<expShift | frac}
	}
}

// FromBits wraps the raw bit pattern read from a buffer.
func FromBits(bits uint16) Num { return Num{bits: bits} }

// Float32 widens f exactly, subnormal halves included.
func (f Num) Float32() float32 {
	sign := uint32(f.bits>>signShift) << 31
	exp := uint32(f.bits>>expShift) & expMax
	frac := uint32(f.bits & fracMask)

	switch exp {
	case 0:
		// 非规格化数：frac * 2^-24
		v := float32(frac) / (1 << 24)
		return math.Float32frombits(math.Float32bits(v) | sign)
	case expMax:
		return math.Float32frombits(sign | 0xff<<23 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+127-bias)<<23 | frac<<13)
}

func (f Num) Uint16() uint16 { return f.bits }
func (f Num) String() string { return strconv.FormatFloat(float64(f.Float32()), 'g', -1, 32) }
