// Package rng 提供显式构造、显式播种的正态随机源。
// 每个 worker 持有自己的源，种子由调用级种子与分块下标派生，从不依赖进程全局状态。
package rng

import (
	crypto_rand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// Normal 标准正态分布随机源。
type Normal interface {
	NormFloat64() float64
}

// Source 单个 worker 独占的随机源，非并发安全。
type Source struct {
	*rand.Rand
	seed uint64
}

// New 以给定种子创建 PCG 随机源。
func New(seed uint64) *Source {
	s1 := splitMix64(seed)
	s2 := splitMix64(s1)
	return &Source{
		Rand: rand.New(rand.NewPCG(s1, s2)),
		seed: seed,
	}
}

// Seed 返回构造时的种子，便于复现。
func (s *Source) Seed() uint64 {
	return s.seed
}

// Derive 由调用级种子与分块下标派生互不相同的子种子。
// 对固定 base，不同 index 得到不同结果 (splitMix64 为双射)。
func Derive(base uint64, index int) uint64 {
	return splitMix64(base ^ splitMix64(uint64(index)+goldenGamma))
}

// NewSeed 从 crypto/rand 取得一个调用级种子；读取失败时退化为纳秒时间戳。
func NewSeed() uint64 {
	var b [8]byte
	if _, err := crypto_rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

const goldenGamma = 0x9e3779b97f4a7c15

// splitMix64 Steele/Lea/Flood 的 SplitMix64 终结函数。
func splitMix64(x uint64) uint64 {
	x += goldenGamma
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Sequence 按顺序回放固定的正态抽样，用于验证两种算法在相同抽样下的一致性。
type Sequence struct {
	draws []float64
	pos   int
}

// NewSequence 创建回放源。
func NewSequence(draws []float64) *Sequence {
	return &Sequence{draws: draws}
}

// NormFloat64 返回下一个抽样，耗尽后从头循环。
func (s *Sequence) NormFloat64() float64 {
	v := s.draws[s.pos%len(s.draws)]
	s.pos++
	return v
}

// Consumed 返回已消费的抽样数。
func (s *Sequence) Consumed() int {
	return s.pos
}
